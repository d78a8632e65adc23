package httpapi_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/net/html"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/dashboard"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/httpapi"
)

func TestNewDashboardPageComputesRemainingBannerTime(testingT *testing.T) {
	shownAt := time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)
	snapshot := dashboard.SurfaceSnapshot{SubmitStatusVisible: true, SubmitStatusShownAt: shownAt}

	page := httpapi.NewDashboardPage("", snapshot, 1, true, nil, shownAt.Add(1200*time.Millisecond))
	require.True(testingT, page.SubmitStatusVisible)
	require.Equal(testingT, int64(1800), page.SubmitStatusRemainingMilliseconds)

	expired := httpapi.NewDashboardPage("", snapshot, 1, true, nil, shownAt.Add(dashboard.SubmitStatusDuration))
	require.False(testingT, expired.SubmitStatusVisible)
}

func TestNewDashboardPageLinksSelectedProductResources(testingT *testing.T) {
	page := httpapi.NewDashboardPage("", dashboard.SurfaceSnapshot{}, 42, true, nil, time.Now())

	require.Equal(testingT, "/api/feedback/42/events", page.EventsURL)
	require.Equal(testingT, "/api/feedback/42/export", page.ExportURL)
	require.Contains(testingT, string(page.FooterHTML), `href="/api/stats/42"`)

	withoutSelection := httpapi.NewDashboardPage("", dashboard.SurfaceSnapshot{}, 0, false, nil, time.Now())
	require.Empty(testingT, withoutSelection.EventsURL)
	require.Empty(testingT, withoutSelection.ExportURL)
}

func TestNewDashboardPagePrefixesRemoteAPIBaseURL(testingT *testing.T) {
	page := httpapi.NewDashboardPage("https://api.example.com/", dashboard.SurfaceSnapshot{}, 42, true, nil, time.Now())

	require.Equal(testingT, "https://api.example.com/api/feedback/42/events", page.EventsURL)
	require.Equal(testingT, "https://api.example.com/api/feedback/42/export", page.ExportURL)
	require.Contains(testingT, string(page.FooterHTML), `href="https://api.example.com/api/stats/42"`)
	require.Contains(testingT, string(page.FooterHTML), `href="https://api.example.com/api/products"`)
}

func TestRenderDashboardPageEmbedsChartConfiguration(testingT *testing.T) {
	summary := dashboard.StatsSummary{
		Sentiments: dashboard.SentimentCounts{Positive: 7, Negative: 3},
		Themes:     dashboard.ThemeCounts{{Name: "fast", Count: 4}, {Name: "cheap", Count: 2}},
	}
	sentimentSpec := dashboard.RenderSentimentChart(summary)
	themeSpec := dashboard.RenderThemeChart(summary)
	snapshot := dashboard.SurfaceSnapshot{
		Select:         dashboard.RenderProductSelect([]dashboard.Product{{ID: 1, SKU: "A", Name: "Alpha"}}, 1),
		SentimentChart: &sentimentSpec,
		ThemeChart:     &themeSpec,
		Table:          dashboard.RenderFeedbackTable([]dashboard.FeedbackEntry{{Rating: 5, Sentiment: "pos", Text: "great"}}),
		Insights:       dashboard.RenderInsights([]string{"first", "second"}),
	}

	var buffer bytes.Buffer
	require.NoError(testingT, httpapi.RenderDashboardPage(&buffer, httpapi.NewDashboardPage("", snapshot, 1, true, []string{"Something failed."}, time.Now())))

	document, parseErr := html.Parse(&buffer)
	require.NoError(testingT, parseErr)

	sentimentConfig := chartConfig(testingT, document, "sentimentChartConfig")
	require.Equal(testingT, []int64{7, 3}, sentimentConfig.Data.Datasets[0].Data)
	themeConfig := chartConfig(testingT, document, "themeChartConfig")
	require.Equal(testingT, []string{"fast", "cheap"}, themeConfig.Data.Labels)
	require.Equal(testingT, []int64{4, 2}, themeConfig.Data.Datasets[0].Data)

	require.Equal(testingT, [][]string{{"5", "pos", "great"}}, tableRows(testingT, document))
	require.Equal(testingT, []string{"first", "second"}, listItems(testingT, document, httpapi.InsightsElementID))
	require.Equal(testingT, "Something failed.", textContent(requireElement(testingT, document, httpapi.DashboardErrorElementID)))
}

func TestHandlerTransportServesInProcess(testingT *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/echo", func(ginContext *gin.Context) {
		var payload map[string]string
		require.NoError(testingT, ginContext.ShouldBindJSON(&payload))
		ginContext.JSON(http.StatusCreated, gin.H{"echo": payload["value"], "path": ginContext.Request.URL.RequestURI()})
	})
	client := &http.Client{Transport: httpapi.HandlerTransport{Handler: router}}

	response, err := client.Post("http://in-process/echo?x=1", "application/json", strings.NewReader(`{"value":"hello"}`))
	require.NoError(testingT, err)

	require.Equal(testingT, http.StatusCreated, response.StatusCode)
	require.JSONEq(testingT, `{"echo":"hello","path":"/echo?x=1"}`, readBody(testingT, response))
}

func TestRequestLoggerReusesInboundRequestID(testingT *testing.T) {
	harness := newWebHarness(testingT, webHarnessOptions{})
	request, requestErr := http.NewRequest(http.MethodGet, harness.server.URL+"/api/products", nil)
	require.NoError(testingT, requestErr)
	request.Header.Set(httpapi.RequestIDHeader, "inbound-id-123")

	response, err := harness.browser.Do(request)
	require.NoError(testingT, err)
	defer response.Body.Close()

	require.Equal(testingT, "inbound-id-123", response.Header.Get(httpapi.RequestIDHeader))
	httpLogs := harness.logObserver.FilterMessage("http").FilterFieldKey("request_id")
	require.GreaterOrEqual(testingT, httpLogs.Len(), 1)
	require.Equal(testingT, "inbound-id-123", httpLogs.All()[httpLogs.Len()-1].ContextMap()["request_id"])
}

func TestDashboardForwardsRequestIDToAPICalls(testingT *testing.T) {
	harness := newWebHarness(testingT, webHarnessOptions{})
	request, requestErr := http.NewRequest(http.MethodGet, harness.server.URL+"/", nil)
	require.NoError(testingT, requestErr)
	request.Header.Set(httpapi.RequestIDHeader, "trace-dashboard-1")

	response, err := harness.browser.Do(request)
	require.NoError(testingT, err)
	defer response.Body.Close()
	require.Equal(testingT, http.StatusOK, response.StatusCode)

	apiPaths := map[string]bool{}
	for _, entry := range harness.logObserver.FilterMessage("http").FilterField(zap.String("request_id", "trace-dashboard-1")).All() {
		apiPaths[entry.ContextMap()["path"].(string)] = true
	}
	require.True(testingT, apiPaths["/"])
	require.True(testingT, apiPaths["/api/products"])
}

func TestRequestLoggerLevelFollowsStatus(testingT *testing.T) {
	observerCore, logs := observer.New(zapcore.DebugLevel)
	router := gin.New()
	router.Use(httpapi.RequestLogger(zap.New(observerCore)))
	router.GET("/healthz", func(ginContext *gin.Context) { ginContext.Status(http.StatusOK) })
	router.GET("/boom", func(ginContext *gin.Context) { ginContext.Status(http.StatusInternalServerError) })
	router.GET("/ok", func(ginContext *gin.Context) { ginContext.Status(http.StatusOK) })

	expectedLevels := map[string]zapcore.Level{
		"/healthz": zapcore.DebugLevel,
		"/boom":    zapcore.ErrorLevel,
		"/missing": zapcore.WarnLevel,
		"/ok":      zapcore.InfoLevel,
	}
	for path := range expectedLevels {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	for _, entry := range logs.FilterMessage("http").All() {
		path := entry.ContextMap()["path"].(string)
		require.Equal(testingT, expectedLevels[path], entry.Level, path)
	}
	require.Equal(testingT, len(expectedLevels), logs.FilterMessage("http").Len())
}
