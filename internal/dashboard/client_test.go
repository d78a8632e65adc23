package dashboard_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/api"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/dashboard"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/testutil"
)

type apiServerHarness struct {
	server  *httptest.Server
	client  *dashboard.HTTPClient
	product model.Product
}

func newAPIServerHarness(testingT *testing.T) apiServerHarness {
	testingT.Helper()
	gin.SetMode(gin.TestMode)

	database := testutil.OpenMigratedDatabase(testingT)
	product := testutil.InsertProduct(testingT, database, "RING001", "Silver Ring")
	testutil.InsertProduct(testingT, database, "EARR002", "Gold Earrings")

	router := gin.New()
	api.NewHandlers(database, zap.NewNop(), nil, nil).RegisterRoutes(router)
	server := httptest.NewServer(router)
	testingT.Cleanup(server.Close)

	client, err := dashboard.NewHTTPClient(server.URL+"/", server.Client())
	require.NoError(testingT, err)
	return apiServerHarness{server: server, client: client, product: product}
}

func TestHTTPClientRoundTripsAgainstAPI(testingT *testing.T) {
	harness := newAPIServerHarness(testingT)
	ctx := context.Background()

	products, productsErr := harness.client.Products(ctx)
	require.NoError(testingT, productsErr)
	require.Len(testingT, products, 2)
	require.Equal(testingT, dashboard.Product{ID: harness.product.ID, SKU: "RING001", Name: "Silver Ring"}, products[0])

	require.NoError(testingT, harness.client.SubmitFeedback(ctx, dashboard.FeedbackSubmission{ProductSKU: "RING001", Rating: "5", Text: "Beautiful and comfortable"}))
	require.NoError(testingT, harness.client.SubmitFeedback(ctx, dashboard.FeedbackSubmission{ProductSKU: "RING001", Rating: "1", Text: "It broke"}))

	entries, entriesErr := harness.client.Feedback(ctx, harness.product.ID)
	require.NoError(testingT, entriesErr)
	require.Equal(testingT, []dashboard.FeedbackEntry{
		{Rating: 5, Sentiment: model.SentimentPositive, Text: "Beautiful and comfortable"},
		{Rating: 1, Sentiment: model.SentimentNegative, Text: "It broke"},
	}, entries)

	stats, statsErr := harness.client.Stats(ctx, harness.product.ID)
	require.NoError(testingT, statsErr)
	require.Equal(testingT, dashboard.SentimentCounts{Positive: 1, Negative: 1}, stats.Sentiments)
	require.Equal(testingT, dashboard.ThemeCounts{
		{Name: "Comfort", Count: 1},
		{Name: "Durability", Count: 1},
		{Name: "Appearance", Count: 1},
	}, stats.Themes)

	insights, insightsErr := harness.client.Insights(ctx, harness.product.ID)
	require.NoError(testingT, insightsErr)
	require.NotEmpty(testingT, insights)
}

func TestHTTPClientReportsRejectedSubmission(testingT *testing.T) {
	harness := newAPIServerHarness(testingT)

	err := harness.client.SubmitFeedback(context.Background(), dashboard.FeedbackSubmission{ProductSKU: "UNKNOWN", Rating: "3", Text: "hello"})
	require.ErrorIs(testingT, err, dashboard.ErrUnexpectedStatus)
}

func TestHTTPClientDrivesControllerEndToEnd(testingT *testing.T) {
	harness := newAPIServerHarness(testingT)
	surface := dashboard.NewRecordingSurface(nil)
	controller, err := dashboard.NewController(harness.client, surface, dashboard.WithAfterFunc(func(delay time.Duration, fn func()) {}))
	require.NoError(testingT, err)

	require.NoError(testingT, controller.LoadProducts(context.Background()))
	require.NoError(testingT, controller.SubmitFeedback(context.Background(), dashboard.FormValues{
		dashboard.FieldProduct: "RING001",
		dashboard.FieldRating:  "4",
		dashboard.FieldText:    "shiny design",
	}))

	snapshot := surface.Snapshot()
	require.True(testingT, snapshot.SubmitStatusVisible)
	require.Equal(testingT, [][]string{{"4", model.SentimentPositive, "shiny design"}}, tableCells(snapshot.Table))
	require.Equal(testingT, []int64{1, 0}, snapshot.SentimentChart.Data.Datasets[0].Data)
}

func TestHTTPClientErrors(testingT *testing.T) {
	testCases := []struct {
		name          string
		handler       http.HandlerFunc
		call          func(client *dashboard.HTTPClient) error
		expectedError error
	}{
		{
			name: "non-success status",
			handler: func(writer http.ResponseWriter, request *http.Request) {
				writer.WriteHeader(http.StatusInternalServerError)
			},
			call: func(client *dashboard.HTTPClient) error {
				_, err := client.Products(context.Background())
				return err
			},
			expectedError: dashboard.ErrUnexpectedStatus,
		},
		{
			name: "undecodable body",
			handler: func(writer http.ResponseWriter, request *http.Request) {
				_, _ = io.WriteString(writer, "not json")
			},
			call: func(client *dashboard.HTTPClient) error {
				_, err := client.Feedback(context.Background(), 1)
				return err
			},
			expectedError: dashboard.ErrDecodeResponse,
		},
		{
			name: "stats without themes",
			handler: func(writer http.ResponseWriter, request *http.Request) {
				_ = json.NewEncoder(writer).Encode(map[string]any{"sentiments": map[string]int{"positive": 1, "negative": 0}})
			},
			call: func(client *dashboard.HTTPClient) error {
				_, err := client.Stats(context.Background(), 1)
				return err
			},
			expectedError: dashboard.ErrMalformedStats,
		},
	}

	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(subT *testing.T) {
			server := httptest.NewServer(testCase.handler)
			defer server.Close()

			client, err := dashboard.NewHTTPClient(server.URL, server.Client())
			require.NoError(subT, err)
			require.ErrorIs(subT, testCase.call(client), testCase.expectedError)
		})
	}
}

func TestNewHTTPClientRejectsInvalidBaseURL(testingT *testing.T) {
	for _, baseURL := range []string{"", "not a url", "/relative/path", "://missing-scheme"} {
		_, err := dashboard.NewHTTPClient(baseURL, nil)
		require.ErrorIs(testingT, err, dashboard.ErrInvalidBaseURL, baseURL)
	}
}

func TestHTTPClientForwardsRequestIDFromContext(testingT *testing.T) {
	receivedIDs := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		receivedIDs <- request.Header.Get(dashboard.RequestIDHeader)
		writer.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(writer, `[]`)
	}))
	defer server.Close()

	client, err := dashboard.NewHTTPClient(server.URL, server.Client())
	require.NoError(testingT, err)

	_, err = client.Products(dashboard.ContextWithRequestID(context.Background(), "trace-42"))
	require.NoError(testingT, err)
	require.Equal(testingT, "trace-42", <-receivedIDs)

	_, err = client.Products(dashboard.ContextWithRequestID(context.Background(), ""))
	require.NoError(testingT, err)
	require.Empty(testingT, <-receivedIDs)
}
