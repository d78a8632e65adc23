package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
)

const feedbackEventQueueLength = 8

// FeedbackEvent announces a newly stored feedback entry for one product.
type FeedbackEvent struct {
	ProductID     uint
	FeedbackID    uint
	Rating        int
	Sentiment     string
	Themes        []string
	CreatedAt     time.Time
	FeedbackCount int64
}

// FeedbackEventBroadcaster routes feedback events to the subscribers of the event's product.
// Delivery never blocks the publisher: a subscriber with a full queue misses the event.
type FeedbackEventBroadcaster struct {
	mutex    sync.Mutex
	products map[uint]map[*FeedbackEventSubscription]struct{}
	closed   bool
	dropped  atomic.Uint64
}

func NewFeedbackEventBroadcaster() *FeedbackEventBroadcaster {
	return &FeedbackEventBroadcaster{products: make(map[uint]map[*FeedbackEventSubscription]struct{})}
}

// Subscribe opens a subscription for productID. It returns nil after Close.
func (broadcaster *FeedbackEventBroadcaster) Subscribe(productID uint) *FeedbackEventSubscription {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return nil
	}
	subscription := &FeedbackEventSubscription{
		broadcaster: broadcaster,
		productID:   productID,
		events:      make(chan FeedbackEvent, feedbackEventQueueLength),
	}
	audience, exists := broadcaster.products[productID]
	if !exists {
		audience = make(map[*FeedbackEventSubscription]struct{})
		broadcaster.products[productID] = audience
	}
	audience[subscription] = struct{}{}
	return subscription
}

func (broadcaster *FeedbackEventBroadcaster) Broadcast(event FeedbackEvent) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	for subscription := range broadcaster.products[event.ProductID] {
		select {
		case subscription.events <- event:
		default:
			broadcaster.dropped.Add(1)
		}
	}
}

// SubscriberCount reports open subscriptions across all products.
func (broadcaster *FeedbackEventBroadcaster) SubscriberCount() int {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	total := 0
	for _, audience := range broadcaster.products {
		total += len(audience)
	}
	return total
}

// Dropped reports how many deliveries were skipped because a queue was full.
func (broadcaster *FeedbackEventBroadcaster) Dropped() uint64 {
	return broadcaster.dropped.Load()
}

// Close ends every subscription. Later Subscribe calls return nil.
func (broadcaster *FeedbackEventBroadcaster) Close() {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	broadcaster.closed = true
	for productID, audience := range broadcaster.products {
		for subscription := range audience {
			close(subscription.events)
		}
		delete(broadcaster.products, productID)
	}
}

func (broadcaster *FeedbackEventBroadcaster) unsubscribe(subscription *FeedbackEventSubscription) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	audience, exists := broadcaster.products[subscription.productID]
	if !exists {
		return
	}
	if _, subscribed := audience[subscription]; !subscribed {
		return
	}
	delete(audience, subscription)
	close(subscription.events)
	if len(audience) == 0 {
		delete(broadcaster.products, subscription.productID)
	}
}

// FeedbackEventSubscription receives the events of a single product.
type FeedbackEventSubscription struct {
	broadcaster *FeedbackEventBroadcaster
	productID   uint
	events      chan FeedbackEvent
	closeOnce   sync.Once
}

func (subscription *FeedbackEventSubscription) Events() <-chan FeedbackEvent {
	if subscription == nil {
		return nil
	}
	return subscription.events
}

func (subscription *FeedbackEventSubscription) Close() {
	if subscription == nil {
		return
	}
	subscription.closeOnce.Do(func() {
		subscription.broadcaster.unsubscribe(subscription)
	})
}

// publishFeedbackEvent announces a stored feedback row together with the product's new feedback total.
func publishFeedbackEvent(ctx context.Context, database *gorm.DB, logger *zap.Logger, broadcaster *FeedbackEventBroadcaster, feedback model.Feedback) {
	if broadcaster == nil {
		return
	}
	var feedbackCount int64
	countErr := database.WithContext(ctx).Model(&model.Feedback{}).
		Where("product_id = ?", feedback.ProductID).
		Count(&feedbackCount).Error
	if countErr != nil {
		logger.Debug("count_feedback_for_event", zap.Error(countErr), zap.Uint("product_id", feedback.ProductID))
		feedbackCount = 0
	}

	createdAt := feedback.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	broadcaster.Broadcast(FeedbackEvent{
		ProductID:     feedback.ProductID,
		FeedbackID:    feedback.ID,
		Rating:        feedback.Rating,
		Sentiment:     feedback.Sentiment,
		Themes:        feedback.ThemeList(),
		CreatedAt:     createdAt.UTC(),
		FeedbackCount: feedbackCount,
	})
}
