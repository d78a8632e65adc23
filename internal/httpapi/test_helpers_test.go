package httpapi_test

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/html"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/api"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/dashboard"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/httpapi"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/testutil"
)

const (
	testSessionSecret  = "test-session-secret-0123456789abcdef"
	testInternalAPIURL = "http://feedback-dashboard.internal"
)

type webHarness struct {
	database    *gorm.DB
	router      *gin.Engine
	server      *httptest.Server
	browser     *http.Client
	sessions    *httpapi.DashboardSessions
	logObserver *observer.ObservedLogs
}

type webHarnessOptions struct {
	skipCatalog bool
}

func newWebHarness(testingT *testing.T, options webHarnessOptions) webHarness {
	testingT.Helper()
	gin.SetMode(gin.TestMode)

	database := testutil.OpenMigratedDatabase(testingT)
	if !options.skipCatalog {
		testutil.InsertProduct(testingT, database, "RING001", "Aurora Gold Ring")
		testutil.InsertProduct(testingT, database, "EARR002", "Luna Silver Earrings")
		testutil.InsertProduct(testingT, database, "NECK003", "Solstice Necklace")
	}

	observerCore, logObserver := observer.New(zapcore.DebugLevel)
	logger := zap.New(observerCore)

	router := gin.New()
	router.Use(httpapi.RequestLogger(logger))
	api.NewHandlers(database, logger, nil, api.NewFeedbackEventBroadcaster()).RegisterRoutes(router)

	apiClient, clientErr := dashboard.NewHTTPClient(testInternalAPIURL, &http.Client{Transport: httpapi.HandlerTransport{Handler: router}, Timeout: 5 * time.Second})
	require.NoError(testingT, clientErr)
	dashboardSessions, sessionsErr := httpapi.NewDashboardSessions(httpapi.NewControllerFactory(apiClient, logger), time.Hour, nil)
	require.NoError(testingT, sessionsErr)
	httpapi.NewDashboardWebHandlers(logger, dashboardSessions, httpapi.NewSessionStore([]byte(testSessionSecret), false)).RegisterRoutes(router)

	server := httptest.NewServer(router)
	testingT.Cleanup(server.Close)

	cookieJar, jarErr := cookiejar.New(nil)
	require.NoError(testingT, jarErr)
	browser := &http.Client{Transport: server.Client().Transport, Jar: cookieJar}

	return webHarness{
		database:    database,
		router:      router,
		server:      server,
		browser:     browser,
		sessions:    dashboardSessions,
		logObserver: logObserver,
	}
}

func (harness webHarness) getPage(testingT *testing.T, path string) *html.Node {
	testingT.Helper()
	response, err := harness.browser.Get(harness.server.URL + path)
	require.NoError(testingT, err)
	return parsePage(testingT, response)
}

func (harness webHarness) postForm(testingT *testing.T, path string, values url.Values) *html.Node {
	testingT.Helper()
	response, err := harness.browser.PostForm(harness.server.URL+path, values)
	require.NoError(testingT, err)
	return parsePage(testingT, response)
}

func parsePage(testingT *testing.T, response *http.Response) *html.Node {
	testingT.Helper()
	defer response.Body.Close()
	require.Equal(testingT, http.StatusOK, response.StatusCode)
	require.Contains(testingT, response.Header.Get("Content-Type"), "text/html")
	document, parseErr := html.Parse(response.Body)
	require.NoError(testingT, parseErr)
	return document
}

func findElementByID(node *html.Node, elementID string) *html.Node {
	if node.Type == html.ElementNode && attributeValue(node, "id") == elementID {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findElementByID(child, elementID); found != nil {
			return found
		}
	}
	return nil
}

func findElements(node *html.Node, tagName string) []*html.Node {
	var matches []*html.Node
	var traverse func(*html.Node)
	traverse = func(current *html.Node) {
		if current.Type == html.ElementNode && current.Data == tagName {
			matches = append(matches, current)
		}
		for child := current.FirstChild; child != nil; child = child.NextSibling {
			traverse(child)
		}
	}
	traverse(node)
	return matches
}

func attributeValue(node *html.Node, name string) string {
	for _, attribute := range node.Attr {
		if attribute.Key == name {
			return attribute.Val
		}
	}
	return ""
}

func hasAttribute(node *html.Node, name string) bool {
	for _, attribute := range node.Attr {
		if attribute.Key == name {
			return true
		}
	}
	return false
}

func textContent(node *html.Node) string {
	var builder strings.Builder
	var traverse func(*html.Node)
	traverse = func(current *html.Node) {
		if current.Type == html.TextNode {
			builder.WriteString(current.Data)
		}
		for child := current.FirstChild; child != nil; child = child.NextSibling {
			traverse(child)
		}
	}
	traverse(node)
	return strings.TrimSpace(builder.String())
}

func requireElement(testingT *testing.T, document *html.Node, elementID string) *html.Node {
	testingT.Helper()
	element := findElementByID(document, elementID)
	require.NotNil(testingT, element, "missing element #%s", elementID)
	return element
}

func tableRows(testingT *testing.T, document *html.Node) [][]string {
	testingT.Helper()
	tableBody := requireElement(testingT, document, httpapi.FeedbackTableElementID)
	rows := [][]string{}
	for _, row := range findElements(tableBody, "tr") {
		var cells []string
		for _, cell := range findElements(row, "td") {
			cells = append(cells, textContent(cell))
		}
		rows = append(rows, cells)
	}
	return rows
}

func listItems(testingT *testing.T, document *html.Node, elementID string) []string {
	testingT.Helper()
	list := requireElement(testingT, document, elementID)
	items := []string{}
	for _, item := range findElements(list, "li") {
		items = append(items, textContent(item))
	}
	return items
}

func readBody(testingT *testing.T, response *http.Response) string {
	testingT.Helper()
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	require.NoError(testingT, err)
	return string(body)
}
