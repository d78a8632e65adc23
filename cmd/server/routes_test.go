package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/api"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/storage"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/testutil"
)

const testSessionSecret = "routes-test-session-secret-0123456789"

var exportLinkExpression = regexp.MustCompile(`href="([^"]+/export)"`)

func newTestBrowser(testingT *testing.T) *http.Client {
	testingT.Helper()
	jar, jarErr := cookiejar.New(nil)
	require.NoError(testingT, jarErr)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func readResponseBody(testingT *testing.T, response *http.Response) string {
	testingT.Helper()
	defer response.Body.Close()
	body, readErr := io.ReadAll(response.Body)
	require.NoError(testingT, readErr)
	return string(body)
}

func TestAPIPreflightRoutesUseWildcardCORS(testingT *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	registerAPIPreflightRoutes(router, newAPICORS())

	for _, path := range []string{"/api/feedback", "/api/stats/1", "/api/feedback/1/export"} {
		request := httptest.NewRequest(http.MethodOptions, path, nil)
		request.Header.Set("Origin", "http://widget.example")
		request.Header.Set("Access-Control-Request-Method", http.MethodPost)
		request.Header.Set("Access-Control-Request-Headers", "content-type")
		recorder := httptest.NewRecorder()

		router.ServeHTTP(recorder, request)

		require.Equal(testingT, http.StatusNoContent, recorder.Code, path)
		require.Equal(testingT, corsOriginWildcard, recorder.Header().Get("Access-Control-Allow-Origin"), path)
		require.Empty(testingT, recorder.Header().Get("Access-Control-Allow-Credentials"), path)
	}
}

func TestMonolithServesAPIAndDashboardInProcess(testingT *testing.T) {
	gin.SetMode(gin.TestMode)
	database := testutil.OpenMigratedDatabase(testingT)
	_, seedErr := storage.SeedCatalog(context.Background(), database, storage.DefaultCatalog())
	require.NoError(testingT, seedErr)

	components, buildErr := buildServerComponents(ServerConfig{
		ServeMode:        ServeModeMonolith,
		SessionSecret:    testSessionSecret,
		BackfillInterval: time.Hour,
	}, database, zap.NewNop())
	require.NoError(testingT, buildErr)
	require.Equal(testingT, apiBaseURLInProcess, components.dashboardAPIEndpoint)
	require.NotNil(testingT, components.backfillScheduler)
	require.NotNil(testingT, components.evictionScheduler)

	server := httptest.NewServer(components.router)
	testingT.Cleanup(server.Close)
	testingT.Cleanup(func() { components.close(zap.NewNop()) })

	browser := newTestBrowser(testingT)

	productsRequest, requestErr := http.NewRequest(http.MethodGet, server.URL+api.RouteProducts, nil)
	require.NoError(testingT, requestErr)
	productsRequest.Header.Set("Origin", "http://widget.example")
	productsResponse, productsErr := browser.Do(productsRequest)
	require.NoError(testingT, productsErr)
	require.Equal(testingT, http.StatusOK, productsResponse.StatusCode)
	require.Equal(testingT, corsOriginWildcard, productsResponse.Header.Get("Access-Control-Allow-Origin"))
	var products []map[string]any
	require.NoError(testingT, json.Unmarshal([]byte(readResponseBody(testingT, productsResponse)), &products))
	require.Len(testingT, products, 3)

	dashboardResponse, dashboardErr := browser.Get(server.URL + "/")
	require.NoError(testingT, dashboardErr)
	require.Equal(testingT, http.StatusOK, dashboardResponse.StatusCode)
	dashboardBody := readResponseBody(testingT, dashboardResponse)
	require.Contains(testingT, dashboardBody, `id="sentimentChart"`)
	require.Contains(testingT, dashboardBody, "Aurora Gold Ring")
	require.Empty(testingT, dashboardResponse.Header.Get("Access-Control-Allow-Origin"))
}

func TestCloseDatabaseReleasesConnection(testingT *testing.T) {
	database := testutil.OpenMigratedDatabase(testingT)
	components := &serverComponents{database: database}

	require.NoError(testingT, storage.Ping(context.Background(), database))
	components.closeDatabase(zap.NewNop())
	require.Error(testingT, storage.Ping(context.Background(), database))

	(&serverComponents{}).closeDatabase(zap.NewNop())
}

func TestWebModeUsesRemoteAPIBaseURL(testingT *testing.T) {
	gin.SetMode(gin.TestMode)
	database := testutil.OpenMigratedDatabase(testingT)
	testutil.InsertProduct(testingT, database, "RING001", "Aurora Gold Ring")

	apiRouter := gin.New()
	api.NewHandlers(database, zap.NewNop(), nil, nil).RegisterRoutes(apiRouter)
	apiServer := httptest.NewServer(apiRouter)
	testingT.Cleanup(apiServer.Close)

	components, buildErr := buildServerComponents(ServerConfig{
		ServeMode:        ServeModeWeb,
		SessionSecret:    testSessionSecret,
		APIBaseURL:       apiServer.URL,
		BackfillInterval: time.Hour,
	}, nil, zap.NewNop())
	require.NoError(testingT, buildErr)
	require.Nil(testingT, components.backfillScheduler)
	require.Nil(testingT, components.feedbackBroadcaster)
	require.Equal(testingT, apiServer.URL, components.dashboardAPIEndpoint)

	webServer := httptest.NewServer(components.router)
	testingT.Cleanup(webServer.Close)

	browser := newTestBrowser(testingT)
	dashboardResponse, dashboardErr := browser.Get(webServer.URL + "/dashboard")
	require.NoError(testingT, dashboardErr)
	require.Equal(testingT, http.StatusOK, dashboardResponse.StatusCode)
	dashboardBody := readResponseBody(testingT, dashboardResponse)
	require.Contains(testingT, dashboardBody, "RING001")

	exportLink := exportLinkExpression.FindStringSubmatch(dashboardBody)
	require.Len(testingT, exportLink, 2)
	require.True(testingT, strings.HasPrefix(exportLink[1], apiServer.URL), exportLink[1])
	exportResponse, exportErr := browser.Get(exportLink[1])
	require.NoError(testingT, exportErr)
	require.Equal(testingT, http.StatusOK, exportResponse.StatusCode)
	require.NotEmpty(testingT, readResponseBody(testingT, exportResponse))

	apiResponse, apiErr := browser.Get(webServer.URL + api.RouteProducts)
	require.NoError(testingT, apiErr)
	require.Equal(testingT, http.StatusNotFound, apiResponse.StatusCode)
	_ = readResponseBody(testingT, apiResponse)
}

func TestAPIModeDoesNotServeDashboard(testingT *testing.T) {
	gin.SetMode(gin.TestMode)
	database := testutil.OpenMigratedDatabase(testingT)

	components, buildErr := buildServerComponents(ServerConfig{
		ServeMode:        ServeModeAPI,
		BackfillInterval: time.Hour,
	}, database, zap.NewNop())
	require.NoError(testingT, buildErr)
	require.Nil(testingT, components.dashboardSessions)
	require.Nil(testingT, components.evictionScheduler)

	recorder := httptest.NewRecorder()
	components.router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(testingT, http.StatusNotFound, recorder.Code)
}

func TestBuildServerComponentsRejectsInvalidAPIBaseURL(testingT *testing.T) {
	gin.SetMode(gin.TestMode)

	_, buildErr := buildServerComponents(ServerConfig{
		ServeMode:        ServeModeWeb,
		SessionSecret:    testSessionSecret,
		APIBaseURL:       "not a url",
		BackfillInterval: time.Hour,
	}, nil, zap.NewNop())
	require.Error(testingT, buildErr)
}

func TestStartSchedulersBackfillsUnclassifiedFeedback(testingT *testing.T) {
	gin.SetMode(gin.TestMode)
	database := testutil.OpenMigratedDatabase(testingT)
	product := testutil.InsertProduct(testingT, database, "RING001", "Aurora Gold Ring")
	stored := testutil.InsertFeedback(testingT, database, model.Feedback{
		ProductID: product.ID,
		Rating:    5,
		Text:      "shiny and elegant",
	})

	components, buildErr := buildServerComponents(ServerConfig{
		ServeMode:        ServeModeAPI,
		BackfillInterval: time.Hour,
	}, database, zap.NewNop())
	require.NoError(testingT, buildErr)

	components.startSchedulers(context.Background())
	testingT.Cleanup(func() { components.close(zap.NewNop()) })

	require.Eventually(testingT, func() bool {
		var reloaded model.Feedback
		if loadErr := database.First(&reloaded, stored.ID).Error; loadErr != nil {
			return false
		}
		return reloaded.Sentiment != ""
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPrepareDatabaseSeedsCatalogFile(testingT *testing.T) {
	catalogPath := filepath.Join(testingT.TempDir(), "catalog.yaml")
	catalogContents := "products:\n  - sku: BRAC004\n    name: Meridian Bracelet\n"
	require.NoError(testingT, os.WriteFile(catalogPath, []byte(catalogContents), 0o600))

	testDatabase := testutil.NewSQLiteTestDatabase(testingT)
	observerCore, logs := observer.New(zapcore.InfoLevel)
	application := NewServerApplication()

	database, prepareErr := application.prepareDatabase(context.Background(), ServerConfig{
		DatabaseDriverName:     storage.DriverNameSQLite,
		DatabaseDataSourceName: testDatabase.DataSourceName(),
		CatalogFile:            catalogPath,
	}, zap.New(observerCore))
	require.NoError(testingT, prepareErr)

	var products []model.Product
	require.NoError(testingT, database.Order("id asc").Find(&products).Error)
	require.Len(testingT, products, 1)
	require.Equal(testingT, "BRAC004", products[0].SKU)

	seededLogs := logs.FilterMessage(logEventCatalogSeeded).All()
	require.Len(testingT, seededLogs, 1)
	require.Equal(testingT, catalogPath, seededLogs[0].ContextMap()[logFieldCatalogSource])
}

func TestPrepareDatabaseRejectsInvalidCatalogFile(testingT *testing.T) {
	catalogPath := filepath.Join(testingT.TempDir(), "catalog.yaml")
	require.NoError(testingT, os.WriteFile(catalogPath, []byte("products: []\n"), 0o600))

	testDatabase := testutil.NewSQLiteTestDatabase(testingT)
	_, prepareErr := NewServerApplication().prepareDatabase(context.Background(), ServerConfig{
		DatabaseDriverName:     storage.DriverNameSQLite,
		DatabaseDataSourceName: testDatabase.DataSourceName(),
		CatalogFile:            catalogPath,
	}, zap.NewNop())
	require.ErrorIs(testingT, prepareErr, storage.ErrEmptyCatalog)
}

func TestEnvironmentFileFeedsConfiguration(testingT *testing.T) {
	const environmentKey = "FEEDBACK_DASHBOARD_TEST_BACKFILL"
	environmentPath := filepath.Join(testingT.TempDir(), ".env")
	require.NoError(testingT, os.WriteFile(environmentPath, []byte(environmentKey+"=42m\n"), 0o600))
	testingT.Cleanup(func() { _ = os.Unsetenv(environmentKey) })

	application := NewServerApplication().WithEnvironmentFile(environmentPath)
	require.NoError(testingT, application.loadEnvironmentFile())
	require.Equal(testingT, "42m", os.Getenv(environmentKey))

	missing := NewServerApplication().WithEnvironmentFile(filepath.Join(testingT.TempDir(), "absent.env"))
	require.NoError(testingT, missing.loadEnvironmentFile())
}

func TestParseServeMode(testingT *testing.T) {
	testCases := map[string]ServeMode{
		"":         ServeModeMonolith,
		" Web ":    ServeModeWeb,
		"API":      ServeModeAPI,
		"monolith": ServeModeMonolith,
	}
	for rawInput, expected := range testCases {
		mode, parseErr := ParseServeMode(rawInput)
		require.NoError(testingT, parseErr, rawInput)
		require.Equal(testingT, expected, mode)
	}

	_, parseErr := ParseServeMode("worker")
	require.ErrorIs(testingT, parseErr, ErrInvalidServeMode)
	require.True(testingT, strings.Contains(parseErr.Error(), "worker"))
}
