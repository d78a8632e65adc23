package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	feedbackCreatedEventName = "feedback_created"
	streamRetryMillis        = 3000
	streamHeartbeatInterval  = 15 * time.Second
)

type feedbackEventPayload struct {
	ProductID     uint     `json:"product_id"`
	FeedbackID    uint     `json:"feedback_id"`
	Rating        int      `json:"rating"`
	Sentiment     string   `json:"sentiment"`
	Themes        []string `json:"themes"`
	CreatedAt     int64    `json:"created_at"`
	FeedbackCount int64    `json:"feedback_count"`
}

func newFeedbackEventPayload(event FeedbackEvent) feedbackEventPayload {
	themes := event.Themes
	if themes == nil {
		themes = []string{}
	}
	return feedbackEventPayload{
		ProductID:     event.ProductID,
		FeedbackID:    event.FeedbackID,
		Rating:        event.Rating,
		Sentiment:     event.Sentiment,
		Themes:        themes,
		CreatedAt:     event.CreatedAt.Unix(),
		FeedbackCount: event.FeedbackCount,
	}
}

// StreamFeedbackEvents holds a server-sent event stream open and emits feedback_created for one product.
// A comment line is written on every heartbeat so idle proxies keep the connection.
func (handlers *Handlers) StreamFeedbackEvents(ginContext *gin.Context) {
	productID, ok := parseProductID(ginContext)
	if !ok {
		return
	}
	flusher, flushable := ginContext.Writer.(http.Flusher)
	if handlers.feedbackBroadcaster == nil || !flushable {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	subscription := handlers.feedbackBroadcaster.Subscribe(productID)
	if subscription == nil {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	defer subscription.Close()

	header := ginContext.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	ginContext.Status(http.StatusOK)
	if _, writeErr := fmt.Fprintf(ginContext.Writer, "retry: %d\n\n", streamRetryMillis); writeErr != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(handlers.streamHeartbeat())
	defer heartbeat.Stop()

	requestContext := ginContext.Request.Context()
	for {
		select {
		case <-requestContext.Done():
			return
		case <-heartbeat.C:
			if _, writeErr := io.WriteString(ginContext.Writer, ": keep-alive\n\n"); writeErr != nil {
				return
			}
			flusher.Flush()
		case event, open := <-subscription.Events():
			if !open {
				return
			}
			if writeErr := writeServerSentEvent(ginContext.Writer, feedbackCreatedEventName, newFeedbackEventPayload(event)); writeErr != nil {
				handlers.logger.Debug("stream_feedback_event", zap.Error(writeErr), zap.Uint("product_id", productID))
				return
			}
			flusher.Flush()
		}
	}
}

func (handlers *Handlers) streamHeartbeat() time.Duration {
	if handlers.heartbeatInterval > 0 {
		return handlers.heartbeatInterval
	}
	return streamHeartbeatInterval
}

func writeServerSentEvent(writer io.Writer, eventName string, payload any) error {
	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return marshalErr
	}
	_, writeErr := fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", eventName, data)
	return writeErr
}
