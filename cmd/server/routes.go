package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/api"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/dashboard"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/httpapi"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/storage"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/task"
)

const (
	apiPreflightRoute       = "/api/*path"
	corsOriginWildcard      = "*"
	corsHeaderContentType   = "Content-Type"
	corsHeaderRequestID     = httpapi.RequestIDHeader
	inProcessAPIBaseURL     = "http://feedback-dashboard.internal"
	dashboardClientTimeout  = 10 * time.Second
	sessionEvictionJobName  = "dashboard_session_eviction"
	sessionEvictionInterval = time.Minute

	logEventDatabaseCloseFailed = "database_close_failed"
)

var (
	corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsAllowedHeaders = []string{corsHeaderContentType, corsHeaderRequestID}
	corsExposedHeaders = []string{corsHeaderContentType, corsHeaderRequestID}
)

type serverComponents struct {
	router               *gin.Engine
	feedbackBroadcaster  *api.FeedbackEventBroadcaster
	dashboardSessions    *httpapi.DashboardSessions
	backfillScheduler    *task.Scheduler
	evictionScheduler    *task.Scheduler
	dashboardAPIEndpoint string
	database             *gorm.DB
}

func newAPICORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{corsOriginWildcard},
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

// buildServerComponents wires the router and background jobs for the configured serve mode.
// database may be nil when the mode does not serve the API.
func buildServerComponents(serverConfig ServerConfig, database *gorm.DB, logger *zap.Logger) (*serverComponents, error) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))

	components := &serverComponents{router: router, database: database}

	if serverConfig.ServeMode.servesAPI() {
		components.feedbackBroadcaster = api.NewFeedbackEventBroadcaster()
		apiHandlers := api.NewHandlers(database, logger, nil, components.feedbackBroadcaster)
		registerBackendRoutes(router, apiHandlers, newAPICORS())

		backfillJob := task.NewSentimentBackfillJob(database, logger, task.SentimentBackfillConfig{})
		components.backfillScheduler = task.NewScheduler(backfillJob, serverConfig.BackfillInterval, logger)
	}

	if serverConfig.ServeMode.servesDashboard() {
		dashboardClient, endpoint, clientErr := newDashboardClient(serverConfig, router)
		if clientErr != nil {
			return nil, clientErr
		}
		components.dashboardAPIEndpoint = endpoint
		logger.Info(logEventDashboardClientConfigured, zap.String(logFieldAPIBaseURL, endpoint))

		dashboardSessions, sessionsErr := httpapi.NewDashboardSessions(httpapi.NewControllerFactory(dashboardClient, logger), 0, nil)
		if sessionsErr != nil {
			return nil, sessionsErr
		}
		components.dashboardSessions = dashboardSessions
		sessionStore := httpapi.NewSessionStore([]byte(serverConfig.SessionSecret), serverConfig.SessionSecureCookies)
		dashboardHandlers := httpapi.NewDashboardWebHandlers(logger, dashboardSessions, sessionStore).WithAPIBaseURL(serverConfig.APIBaseURL)
		registerFrontendRoutes(router, dashboardHandlers)

		evictionJob := task.JobFunc{JobName: sessionEvictionJobName, Fn: func(context.Context) (int, error) {
			return dashboardSessions.EvictIdle(), nil
		}}
		components.evictionScheduler = task.NewScheduler(evictionJob, sessionEvictionInterval, logger)
	}

	return components, nil
}

// newDashboardClient targets API_BASE_URL, or the router itself when no base URL is configured.
func newDashboardClient(serverConfig ServerConfig, router http.Handler) (*dashboard.HTTPClient, string, error) {
	if serverConfig.APIBaseURL != "" {
		client, clientErr := dashboard.NewHTTPClient(serverConfig.APIBaseURL, &http.Client{Timeout: dashboardClientTimeout})
		return client, serverConfig.APIBaseURL, clientErr
	}
	client, clientErr := dashboard.NewHTTPClient(inProcessAPIBaseURL, &http.Client{
		Transport: httpapi.HandlerTransport{Handler: router},
		Timeout:   dashboardClientTimeout,
	})
	return client, apiBaseURLInProcess, clientErr
}

func registerFrontendRoutes(router *gin.Engine, dashboardHandlers *httpapi.DashboardWebHandlers) {
	dashboardHandlers.RegisterRoutes(router)
}

func registerBackendRoutes(router *gin.Engine, apiHandlers *api.Handlers, apiCORS gin.HandlerFunc) {
	apiGroup := router.Group("/")
	apiGroup.Use(apiCORS)
	apiHandlers.RegisterRoutes(apiGroup)
	registerAPIPreflightRoutes(router, apiCORS)
}

// registerAPIPreflightRoutes answers OPTIONS for every API path; the CORS middleware aborts preflights itself.
func registerAPIPreflightRoutes(router *gin.Engine, apiCORS gin.HandlerFunc) {
	router.OPTIONS(apiPreflightRoute, apiCORS, func(ginContext *gin.Context) {
		ginContext.Status(http.StatusNoContent)
	})
}

func (components *serverComponents) startSchedulers(ctx context.Context) {
	if components.backfillScheduler != nil {
		components.backfillScheduler.Start(ctx)
		components.backfillScheduler.Trigger()
	}
	if components.evictionScheduler != nil {
		components.evictionScheduler.Start(ctx)
	}
}

// close stops background work and ends open event streams so the HTTP server can drain.
func (components *serverComponents) close(logger *zap.Logger) {
	components.backfillScheduler.Stop()
	components.evictionScheduler.Stop()
	logger.Info(logEventSchedulersStopped)
	if components.feedbackBroadcaster != nil {
		components.feedbackBroadcaster.Close()
		logger.Info(logEventFeedbackBroadcasterShutdown)
	}
}

// closeDatabase runs after the HTTP server drains so in-flight handlers keep their connection.
func (components *serverComponents) closeDatabase(logger *zap.Logger) {
	if components.database == nil {
		return
	}
	if closeErr := storage.Close(components.database); closeErr != nil {
		logger.Warn(logEventDatabaseCloseFailed, zap.Error(closeErr))
	}
}
