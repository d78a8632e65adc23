package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/dashboard"
)

const (
	RootPath              = "/"
	DashboardPath         = "/dashboard"
	DashboardSelectPath   = "/dashboard/select"
	DashboardFeedbackPath = "/dashboard/feedback"
	DashboardInsightsPath = "/dashboard/insights"

	DashboardSessionName   = "feedback_dashboard"
	dashboardSessionIDKey  = "dashboard_id"
	dashboardErrorFlashKey = "dashboard_error"
	productQueryParameter  = "product"
	refreshQueryParameter  = "refresh"
	dashboardSessionMaxAge = 7 * 24 * 60 * 60

	messageLoadProductsFailed = "Could not load products. Try again shortly."
	messageLoadPanelsFailed   = "Could not load product data. Try again shortly."
	messageSubmitFailed       = "Could not submit feedback. Check the rating and try again."
	messageUnknownProduct     = "The selected product is no longer in the catalog."
	messageNoSelection        = "Select a product first."
	messageInsightsFailed     = "Could not generate insights. Try again shortly."
	messageSessionUnavailable = "Your session could not be restored. Reload the page."

	logEventSession          = "dashboard_session"
	logEventLoadProducts     = "dashboard_load_products"
	logEventSelectProduct    = "dashboard_select_product"
	logEventRefresh          = "dashboard_refresh"
	logEventSubmitFeedback   = "dashboard_submit_feedback"
	logEventGenerateInsights = "dashboard_generate_insights"
)

// NewSessionStore returns the cookie store holding the dashboard session id and flashes.
func NewSessionStore(secret []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     RootPath,
		MaxAge:   dashboardSessionMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// DashboardWebHandlers serves the dashboard page and its form actions.
type DashboardWebHandlers struct {
	logger     *zap.Logger
	sessions   *DashboardSessions
	store      sessions.Store
	apiBaseURL string
	now        func() time.Time
}

func NewDashboardWebHandlers(logger *zap.Logger, dashboardSessions *DashboardSessions, store sessions.Store) *DashboardWebHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardWebHandlers{
		logger:   logger,
		sessions: dashboardSessions,
		store:    store,
		now:      time.Now,
	}
}

// WithAPIBaseURL points the page's export, live-update and API links at a remote API.
func (handlers *DashboardWebHandlers) WithAPIBaseURL(apiBaseURL string) *DashboardWebHandlers {
	handlers.apiBaseURL = strings.TrimSpace(apiBaseURL)
	return handlers
}

func (handlers *DashboardWebHandlers) RegisterRoutes(routes gin.IRoutes) {
	routes.GET(RootPath, handlers.RedirectToDashboard)
	routes.GET(DashboardPath, handlers.RenderDashboard)
	routes.POST(DashboardSelectPath, handlers.SelectProduct)
	routes.POST(DashboardFeedbackPath, handlers.SubmitFeedback)
	routes.POST(DashboardInsightsPath, handlers.GenerateInsights)
}

func (handlers *DashboardWebHandlers) RedirectToDashboard(context *gin.Context) {
	context.Redirect(http.StatusFound, DashboardPath)
}

// RenderDashboard loads the catalog on the first visit, applies ?product=<id>,
// refreshes panels when ?refresh is set, and renders the current view.
func (handlers *DashboardWebHandlers) RenderDashboard(context *gin.Context) {
	browserSession, sessionID := handlers.browserSession(context)
	requestedProductID := parseProductQuery(context.Query(productQueryParameter))
	var errorMessages []string

	dashboardSession, acquireErr := handlers.sessions.acquire(sessionID, requestedProductID)
	if acquireErr != nil {
		handlers.logger.Error(logEventSession, zap.Error(acquireErr), zap.String("request_id", RequestID(context)))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session_unavailable"})
		return
	}

	dashboardSession.operationMutex.Lock()
	defer dashboardSession.operationMutex.Unlock()

	requestContext := context.Request.Context()
	controller := dashboardSession.controller
	if !dashboardSession.loaded {
		if loadErr := handlers.ensureLoaded(requestContext, dashboardSession); loadErr != nil {
			errorMessages = append(errorMessages, handlers.describe(context, logEventLoadProducts, loadErr))
		}
	} else if currentProductID, _ := controller.SelectedProductID(); requestedProductID != 0 && requestedProductID != currentProductID {
		if selectErr := controller.SelectProduct(requestContext, requestedProductID); selectErr != nil {
			errorMessages = append(errorMessages, handlers.describe(context, logEventSelectProduct, selectErr))
		}
	} else if context.Query(refreshQueryParameter) != "" {
		if refreshErr := controller.Refresh(requestContext); refreshErr != nil {
			errorMessages = append(errorMessages, handlers.describe(context, logEventRefresh, refreshErr))
		}
	}

	var flashedMessages []string
	for _, flash := range browserSession.Flashes(dashboardErrorFlashKey) {
		if message, isString := flash.(string); isString {
			flashedMessages = append(flashedMessages, message)
		}
	}
	errorMessages = append(flashedMessages, errorMessages...)
	handlers.saveSession(context, browserSession)

	selectedProductID, hasSelection := controller.SelectedProductID()
	page := NewDashboardPage(handlers.apiBaseURL, dashboardSession.surface.Snapshot(), selectedProductID, hasSelection, errorMessages, handlers.now())
	context.Status(http.StatusOK)
	context.Header("Content-Type", dashboardHTMLContentType)
	if renderErr := RenderDashboardPage(context.Writer, page); renderErr != nil {
		handlers.logger.Error("render_dashboard", zap.Error(renderErr), zap.String("request_id", RequestID(context)))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "render_failed"})
	}
}

// SelectProduct changes the selection to the product whose SKU is posted in the product field.
func (handlers *DashboardWebHandlers) SelectProduct(ginContext *gin.Context) {
	handlers.withSession(ginContext, logEventSelectProduct, func(requestContext context.Context, dashboardSession *controllerSession) error {
		productSKU := strings.TrimSpace(ginContext.PostForm(dashboard.FieldProduct))
		for _, product := range dashboardSession.controller.Products() {
			if product.SKU == productSKU {
				return dashboardSession.controller.SelectProduct(requestContext, product.ID)
			}
		}
		return dashboard.ErrUnknownProduct
	})
}

// SubmitFeedback posts the form fields exactly as entered.
func (handlers *DashboardWebHandlers) SubmitFeedback(ginContext *gin.Context) {
	handlers.withSession(ginContext, logEventSubmitFeedback, func(requestContext context.Context, dashboardSession *controllerSession) error {
		return dashboardSession.controller.SubmitFeedback(requestContext, postedForm{ginContext: ginContext})
	})
}

func (handlers *DashboardWebHandlers) GenerateInsights(ginContext *gin.Context) {
	handlers.withSession(ginContext, logEventGenerateInsights, func(requestContext context.Context, dashboardSession *controllerSession) error {
		return dashboardSession.controller.GenerateInsights(requestContext)
	})
}

// withSession runs action against the caller's controller and redirects back to the page.
// A failure is stored as a flash message for the next render.
func (handlers *DashboardWebHandlers) withSession(ginContext *gin.Context, logEvent string, action func(context.Context, *controllerSession) error) {
	browserSession, sessionID := handlers.browserSession(ginContext)
	dashboardSession, acquireErr := handlers.sessions.acquire(sessionID, 0)
	if acquireErr != nil {
		handlers.logger.Error(logEventSession, zap.Error(acquireErr), zap.String("request_id", RequestID(ginContext)))
		browserSession.AddFlash(messageSessionUnavailable, dashboardErrorFlashKey)
		handlers.saveSession(ginContext, browserSession)
		ginContext.Redirect(http.StatusSeeOther, DashboardPath)
		return
	}

	dashboardSession.operationMutex.Lock()
	requestContext := ginContext.Request.Context()
	actionErr := handlers.ensureLoaded(requestContext, dashboardSession)
	if actionErr == nil {
		actionErr = action(requestContext, dashboardSession)
	}
	dashboardSession.operationMutex.Unlock()

	if actionErr != nil {
		browserSession.AddFlash(handlers.describe(ginContext, logEvent, actionErr), dashboardErrorFlashKey)
	}
	handlers.saveSession(ginContext, browserSession)
	ginContext.Redirect(http.StatusSeeOther, DashboardPath)
}

func (handlers *DashboardWebHandlers) ensureLoaded(requestContext context.Context, dashboardSession *controllerSession) error {
	if dashboardSession.loaded {
		return nil
	}
	if loadErr := dashboardSession.controller.LoadProducts(requestContext); loadErr != nil {
		if len(dashboardSession.controller.Products()) == 0 {
			return loadErr
		}
		dashboardSession.loaded = true
		return loadErr
	}
	dashboardSession.loaded = true
	return nil
}

// browserSession returns the cookie session, assigning a dashboard session id on first use.
func (handlers *DashboardWebHandlers) browserSession(context *gin.Context) (*sessions.Session, string) {
	browserSession, sessionErr := handlers.store.Get(context.Request, DashboardSessionName)
	if sessionErr != nil {
		handlers.logger.Debug("dashboard_cookie_reset", zap.Error(sessionErr))
	}
	sessionID, _ := browserSession.Values[dashboardSessionIDKey].(string)
	if sessionID == "" {
		sessionID = uuid.NewString()
		browserSession.Values[dashboardSessionIDKey] = sessionID
	}
	return browserSession, sessionID
}

func (handlers *DashboardWebHandlers) saveSession(context *gin.Context, browserSession *sessions.Session) {
	if saveErr := browserSession.Save(context.Request, context.Writer); saveErr != nil {
		handlers.logger.Warn("dashboard_session_save", zap.Error(saveErr), zap.String("request_id", RequestID(context)))
	}
}

// describe logs err and returns the message shown to the user.
func (handlers *DashboardWebHandlers) describe(context *gin.Context, logEvent string, err error) string {
	handlers.logger.Warn(logEvent, zap.Error(err), zap.String("request_id", RequestID(context)))
	switch {
	case errors.Is(err, dashboard.ErrNoSelection):
		return messageNoSelection
	case errors.Is(err, dashboard.ErrUnknownProduct):
		return messageUnknownProduct
	case logEvent == logEventSubmitFeedback:
		return messageSubmitFailed
	case logEvent == logEventGenerateInsights:
		return messageInsightsFailed
	case logEvent == logEventLoadProducts:
		return messageLoadProductsFailed
	default:
		return messageLoadPanelsFailed
	}
}

type postedForm struct {
	ginContext *gin.Context
}

func (form postedForm) Value(field string) string {
	return form.ginContext.PostForm(field)
}

func parseProductQuery(rawValue string) uint {
	parsed, parseErr := strconv.ParseUint(strings.TrimSpace(rawValue), 10, 64)
	if parseErr != nil {
		return 0
	}
	return uint(parsed)
}
