package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/analysis"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/storage"
)

const (
	RouteProducts         = "/api/products"
	RouteFeedback         = "/api/feedback"
	RouteFeedbackByID     = "/api/feedback/:id"
	RouteFeedbackExport   = "/api/feedback/:id/export"
	RouteFeedbackEvents   = "/api/feedback/:id/events"
	RouteStatsByID        = "/api/stats/:id"
	RouteInsightsByID     = "/api/insights/:id"
	RouteHealth           = "/healthz"
	productIDParamName    = "id"
	feedbackTextMaxLength = 4000

	jsonKeyError  = "error"
	jsonKeyStatus = "status"

	statusValueOK = "ok"

	errorValueInvalidJSON       = "invalid_json"
	errorValueInvalidRating     = "invalid_rating"
	errorValueMissingFields     = "missing_fields"
	errorValueTextTooLong       = "text_too_long"
	errorValueUnknownProduct    = "unknown_product"
	errorValueInvalidProductID  = "invalid_product_id"
	errorValueSaveFailed        = "save_failed"
	errorValueQueryFailed       = "query_failed"
	errorValueExportFailed      = "export_failed"
	errorValueStreamUnavailable = "stream_unavailable"
	errorValueDatabaseDown      = "database_unavailable"
)

// Handlers serves the product catalog, feedback, stats, and insights endpoints.
type Handlers struct {
	database            *gorm.DB
	logger              *zap.Logger
	statsProvider       ProductStatisticsProvider
	feedbackBroadcaster *FeedbackEventBroadcaster
	heartbeatInterval   time.Duration
}

// NewHandlers builds Handlers; a nil statsProvider defaults to the database-backed provider.
func NewHandlers(database *gorm.DB, logger *zap.Logger, statsProvider ProductStatisticsProvider, feedbackBroadcaster *FeedbackEventBroadcaster) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statsProvider == nil {
		statsProvider = NewDatabaseProductStatisticsProvider(database)
	}
	return &Handlers{
		database:            database,
		logger:              logger,
		statsProvider:       statsProvider,
		feedbackBroadcaster: feedbackBroadcaster,
	}
}

// RegisterRoutes attaches every endpoint to the router group.
func (handlers *Handlers) RegisterRoutes(routes gin.IRoutes) {
	routes.GET(RouteProducts, handlers.ListProducts)
	routes.POST(RouteFeedback, handlers.CreateFeedback)
	routes.GET(RouteFeedbackByID, handlers.ListFeedback)
	routes.GET(RouteFeedbackExport, handlers.ExportFeedback)
	routes.GET(RouteFeedbackEvents, handlers.StreamFeedbackEvents)
	routes.GET(RouteStatsByID, handlers.Stats)
	routes.GET(RouteInsightsByID, handlers.Insights)
	routes.GET(RouteHealth, handlers.Health)
}

// Health reports whether the database answers a ping.
func (handlers *Handlers) Health(context *gin.Context) {
	if pingErr := storage.Ping(context.Request.Context(), handlers.database); pingErr != nil {
		handlers.logger.Warn("health", zap.Error(pingErr))
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueDatabaseDown})
		return
	}
	context.JSON(http.StatusOK, gin.H{jsonKeyStatus: statusValueOK})
}

func (handlers *Handlers) ListProducts(context *gin.Context) {
	var products []model.Product
	if err := handlers.database.WithContext(context.Request.Context()).Order("id asc").Find(&products).Error; err != nil {
		handlers.logger.Warn("list_products", zap.Error(err))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	responses := make([]productResponse, 0, len(products))
	for _, product := range products {
		responses = append(responses, productResponse{ID: product.ID, SKU: product.SKU, Name: product.Name})
	}
	context.JSON(http.StatusOK, responses)
}

func (handlers *Handlers) CreateFeedback(context *gin.Context) {
	var payload createFeedbackRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		if errors.Is(bindErr, errInvalidRating) {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidRating})
			return
		}
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	productSKU := strings.TrimSpace(payload.ProductSKU)
	if productSKU == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingFields})
		return
	}

	if utf8.RuneCountInString(payload.Text) > feedbackTextMaxLength {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueTextTooLong})
		return
	}

	requestContext := context.Request.Context()
	product, found := handlers.findProduct(context, "sku = ?", productSKU)
	if !found {
		return
	}

	classification := analysis.Classify(payload.Text)
	feedback := model.Feedback{
		ProductID: product.ID,
		Rating:    int(payload.Rating),
		Text:      payload.Text,
		Sentiment: classification.Sentiment,
		Themes:    model.JoinThemes(classification.Themes),
	}
	if err := handlers.database.WithContext(requestContext).Create(&feedback).Error; err != nil {
		handlers.logger.Warn("save_feedback", zap.Error(err), zap.String("product_sku", productSKU))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	publishFeedbackEvent(requestContext, handlers.database, handlers.logger, handlers.feedbackBroadcaster, feedback)
	context.JSON(http.StatusOK, gin.H{jsonKeyStatus: statusValueOK})
}

func (handlers *Handlers) ListFeedback(context *gin.Context) {
	productID, ok := parseProductID(context)
	if !ok {
		return
	}

	var feedbacks []model.Feedback
	if err := handlers.database.WithContext(context.Request.Context()).
		Where("product_id = ?", productID).
		Order("id asc").
		Find(&feedbacks).Error; err != nil {
		handlers.logger.Warn("list_feedback", zap.Error(err), zap.Uint("product_id", productID))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	entries := make([]feedbackEntryResponse, 0, len(feedbacks))
	for _, feedback := range feedbacks {
		entries = append(entries, feedbackEntryResponse{
			Rating:    feedback.Rating,
			Sentiment: feedback.Sentiment,
			Text:      feedback.Text,
		})
	}
	context.JSON(http.StatusOK, entries)
}

func (handlers *Handlers) Stats(context *gin.Context) {
	productID, ok := parseProductID(context)
	if !ok {
		return
	}

	summary, summaryErr := loadProductSummary(context.Request.Context(), handlers.statsProvider, productID)
	if summaryErr != nil {
		handlers.logger.Warn("stats_query_failed", zap.Error(summaryErr), zap.Uint("product_id", productID))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	context.JSON(http.StatusOK, statsResponse{
		Sentiments: sentimentsResponse{
			Positive: summary.Sentiments.Positive,
			Negative: summary.Sentiments.Negative,
		},
		Themes: orderedThemeCounts(summary.Themes),
	})
}

func (handlers *Handlers) Insights(context *gin.Context) {
	productID, ok := parseProductID(context)
	if !ok {
		return
	}

	summary, summaryErr := loadProductSummary(context.Request.Context(), handlers.statsProvider, productID)
	if summaryErr != nil {
		handlers.logger.Warn("insights_query_failed", zap.Error(summaryErr), zap.Uint("product_id", productID))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	context.JSON(http.StatusOK, analysis.Insights(summary))
}

func parseProductID(context *gin.Context) (uint, bool) {
	rawIdentifier := strings.TrimSpace(context.Param(productIDParamName))
	parsed, parseErr := strconv.ParseUint(rawIdentifier, 10, 32)
	if parseErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidProductID})
		return 0, false
	}
	return uint(parsed), true
}

// findProduct answers 404 for a missing product and 500 for a failed lookup.
func (handlers *Handlers) findProduct(context *gin.Context, condition string, value any) (model.Product, bool) {
	var product model.Product
	lookupErr := handlers.database.WithContext(context.Request.Context()).First(&product, condition, value).Error
	switch {
	case lookupErr == nil:
		return product, true
	case errors.Is(lookupErr, gorm.ErrRecordNotFound):
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownProduct})
	default:
		handlers.logger.Warn("find_product", zap.Error(lookupErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
	}
	return model.Product{}, false
}
