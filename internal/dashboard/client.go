package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	productsPath         = "/api/products"
	feedbackPath         = "/api/feedback"
	statsPathFormat      = "/api/stats/%d"
	feedbackPathFormat   = "/api/feedback/%d"
	insightsPathFormat   = "/api/insights/%d"
	contentTypeHeader    = "Content-Type"
	acceptHeader         = "Accept"
	RequestIDHeader      = "X-Request-ID"
	jsonContentType      = "application/json"
	defaultClientTimeout = 10 * time.Second
	maxResponseBytes     = 4 << 20
)

var (
	ErrUnexpectedStatus = errors.New("dashboard: unexpected response status")
	ErrDecodeResponse   = errors.New("dashboard: decode response")
	ErrInvalidBaseURL   = errors.New("dashboard: invalid api base url")
)

type requestIDContextKey struct{}

// ContextWithRequestID tags ctx so API calls made with it carry the id in X-Request-ID.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID
}

// Client is the feedback API as seen by the controller.
type Client interface {
	Products(ctx context.Context) ([]Product, error)
	Stats(ctx context.Context, productID uint) (StatsSummary, error)
	Feedback(ctx context.Context, productID uint) ([]FeedbackEntry, error)
	Insights(ctx context.Context, productID uint) ([]string, error)
	SubmitFeedback(ctx context.Context, submission FeedbackSubmission) error
}

// HTTPClient talks to the feedback API over HTTP.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewHTTPClient builds a client rooted at baseURL. A nil httpClient gets a default with a timeout.
func NewHTTPClient(baseURL string, httpClient *http.Client) (*HTTPClient, error) {
	parsedURL, parseErr := url.Parse(strings.TrimSpace(baseURL))
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, parseErr)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	return &HTTPClient{baseURL: parsedURL, httpClient: httpClient}, nil
}

func (client *HTTPClient) Products(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := client.getJSON(ctx, productsPath, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (client *HTTPClient) Stats(ctx context.Context, productID uint) (StatsSummary, error) {
	var summary StatsSummary
	if err := client.getJSON(ctx, fmt.Sprintf(statsPathFormat, productID), &summary); err != nil {
		return StatsSummary{}, err
	}
	return summary, nil
}

func (client *HTTPClient) Feedback(ctx context.Context, productID uint) ([]FeedbackEntry, error) {
	var entries []FeedbackEntry
	if err := client.getJSON(ctx, fmt.Sprintf(feedbackPathFormat, productID), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (client *HTTPClient) Insights(ctx context.Context, productID uint) ([]string, error) {
	var insights []string
	if err := client.getJSON(ctx, fmt.Sprintf(insightsPathFormat, productID), &insights); err != nil {
		return nil, err
	}
	return insights, nil
}

func (client *HTTPClient) SubmitFeedback(ctx context.Context, submission FeedbackSubmission) error {
	body, marshalErr := json.Marshal(submission)
	if marshalErr != nil {
		return marshalErr
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, client.endpoint(feedbackPath), bytes.NewReader(body))
	if requestErr != nil {
		return requestErr
	}
	request.Header.Set(contentTypeHeader, jsonContentType)
	setCommonHeaders(request)
	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return doErr
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBytes))
	return checkStatus(response, http.MethodPost, feedbackPath)
}

func (client *HTTPClient) getJSON(ctx context.Context, path string, target any) error {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, client.endpoint(path), nil)
	if requestErr != nil {
		return requestErr
	}
	setCommonHeaders(request)
	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return doErr
	}
	defer response.Body.Close()
	if statusErr := checkStatus(response, http.MethodGet, path); statusErr != nil {
		return statusErr
	}
	if decodeErr := json.NewDecoder(io.LimitReader(response.Body, maxResponseBytes)).Decode(target); decodeErr != nil {
		if errors.Is(decodeErr, ErrMalformedStats) {
			return fmt.Errorf("%s %s: %w", http.MethodGet, path, decodeErr)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrDecodeResponse, http.MethodGet, path, decodeErr)
	}
	return nil
}

func setCommonHeaders(request *http.Request) {
	request.Header.Set(acceptHeader, jsonContentType)
	if requestID := requestIDFromContext(request.Context()); requestID != "" {
		request.Header.Set(RequestIDHeader, requestID)
	}
}

func (client *HTTPClient) endpoint(path string) string {
	resolved := *client.baseURL
	resolved.Path = client.baseURL.Path + path
	return resolved.String()
}

func checkStatus(response *http.Response, method string, path string) error {
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedStatus, method, path, response.StatusCode)
	}
	return nil
}
