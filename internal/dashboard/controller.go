package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SubmitStatusDuration is how long the submit confirmation stays visible.
const SubmitStatusDuration = 3000 * time.Millisecond

const (
	logMessageStaleResponse = "dashboard_stale_response"
	logFieldPanel           = "panel"
	logFieldProductID       = "product_id"
	panelStats              = "stats"
	panelFeedbackTable      = "feedback_table"
	panelInsights           = "insights"
)

var (
	ErrNoSelection    = errors.New("dashboard: no product selected")
	ErrUnknownProduct = errors.New("dashboard: product not in catalog")
	ErrMissingClient  = errors.New("dashboard: client is required")
	ErrMissingSurface = errors.New("dashboard: surface is required")
)

// AfterFunc schedules fn after delay.
type AfterFunc func(delay time.Duration, fn func())

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(logger *zap.Logger) Option {
	return func(controller *Controller) {
		if logger != nil {
			controller.logger = logger
		}
	}
}

// WithAfterFunc replaces time.AfterFunc for hiding the submit confirmation.
func WithAfterFunc(afterFunc AfterFunc) Option {
	return func(controller *Controller) {
		if afterFunc != nil {
			controller.afterFunc = afterFunc
		}
	}
}

// WithPreferredProduct makes LoadProducts select productID when the catalog contains it.
func WithPreferredProduct(productID uint) Option {
	return func(controller *Controller) {
		controller.preferredProductID = productID
	}
}

// Controller owns the dashboard state: the catalog, the selection, the live
// charts, and one generation counter per panel. A response is rendered only
// when its generation is still the latest for that panel.
type Controller struct {
	client    Client
	surface   Surface
	logger    *zap.Logger
	afterFunc AfterFunc

	mutex              sync.Mutex
	products           []Product
	selectedProductID  uint
	hasSelection       bool
	preferredProductID uint
	sentimentChart     Chart
	themeChart         Chart
	statsGeneration    uint64
	tableGeneration    uint64
	insightsGeneration uint64
	bannerGeneration   uint64
}

func NewController(client Client, surface Surface, options ...Option) (*Controller, error) {
	if client == nil {
		return nil, ErrMissingClient
	}
	if surface == nil {
		return nil, ErrMissingSurface
	}
	controller := &Controller{
		client:  client,
		surface: surface,
		logger:  zap.NewNop(),
		afterFunc: func(delay time.Duration, fn func()) {
			time.AfterFunc(delay, fn)
		},
	}
	for _, option := range options {
		option(controller)
	}
	return controller, nil
}

// LoadProducts fetches the catalog, fills the selector, selects the first
// product (or the preferred one), and loads its stats and feedback table.
// An empty catalog leaves the selector disabled and loads nothing.
func (controller *Controller) LoadProducts(ctx context.Context) error {
	products, fetchErr := controller.client.Products(ctx)
	if fetchErr != nil {
		return fmt.Errorf("dashboard: load products: %w", fetchErr)
	}

	controller.mutex.Lock()
	controller.products = append([]Product(nil), products...)
	if len(products) == 0 {
		controller.selectedProductID = 0
		controller.hasSelection = false
		controller.statsGeneration++
		controller.tableGeneration++
		controller.destroyChartsLocked()
		controller.surface.RenderProductSelect(RenderProductSelect(nil, 0))
		controller.surface.RenderFeedbackTable(RenderFeedbackTable(nil))
		controller.clearInsightsLocked()
		controller.mutex.Unlock()
		return nil
	}
	selectedProductID := products[0].ID
	if controller.preferredProductID != 0 && controller.containsProductLocked(controller.preferredProductID) {
		selectedProductID = controller.preferredProductID
	}
	controller.selectedProductID = selectedProductID
	controller.hasSelection = true
	controller.surface.RenderProductSelect(RenderProductSelect(controller.products, selectedProductID))
	controller.mutex.Unlock()

	return controller.refreshPanels(ctx, selectedProductID)
}

// SelectProduct changes the selection, reloads stats and the table, and clears insights.
func (controller *Controller) SelectProduct(ctx context.Context, productID uint) error {
	controller.mutex.Lock()
	if !controller.containsProductLocked(productID) {
		controller.mutex.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownProduct, productID)
	}
	controller.selectedProductID = productID
	controller.hasSelection = true
	controller.surface.RenderProductSelect(RenderProductSelect(controller.products, productID))
	controller.clearInsightsLocked()
	controller.mutex.Unlock()

	return controller.refreshPanels(ctx, productID)
}

// Refresh reloads stats and the table for the current selection.
func (controller *Controller) Refresh(ctx context.Context) error {
	productID, hasSelection := controller.SelectedProductID()
	if !hasSelection {
		return nil
	}
	return controller.refreshPanels(ctx, productID)
}

// SubmitFeedback posts the form values verbatim. On success it shows the
// confirmation for SubmitStatusDuration, reloads the current product's panels,
// and clears insights. On failure nothing changes.
func (controller *Controller) SubmitFeedback(ctx context.Context, form FormReader) error {
	submission := FeedbackSubmission{
		ProductSKU: form.Value(FieldProduct),
		Rating:     form.Value(FieldRating),
		Text:       form.Value(FieldText),
	}
	if submitErr := controller.client.SubmitFeedback(ctx, submission); submitErr != nil {
		return fmt.Errorf("dashboard: submit feedback: %w", submitErr)
	}

	controller.showSubmitStatus()

	controller.mutex.Lock()
	productID := controller.selectedProductID
	hasSelection := controller.hasSelection
	controller.clearInsightsLocked()
	controller.mutex.Unlock()

	if !hasSelection {
		return nil
	}
	return controller.refreshPanels(ctx, productID)
}

// LoadStats replaces both charts with the stats of productID.
func (controller *Controller) LoadStats(ctx context.Context, productID uint) error {
	generation := controller.nextGeneration(&controller.statsGeneration)

	summary, fetchErr := controller.client.Stats(ctx, productID)
	if fetchErr != nil {
		return fmt.Errorf("dashboard: load stats for product %d: %w", productID, fetchErr)
	}
	sentimentSpec := RenderSentimentChart(summary)
	themeSpec := RenderThemeChart(summary)

	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	if generation != controller.statsGeneration {
		controller.logStale(panelStats, productID)
		return nil
	}
	controller.destroyChartsLocked()
	controller.sentimentChart = controller.surface.CreateChart(sentimentSpec)
	controller.themeChart = controller.surface.CreateChart(themeSpec)
	return nil
}

// LoadFeedbackTable replaces the table body with the entries of productID.
func (controller *Controller) LoadFeedbackTable(ctx context.Context, productID uint) error {
	generation := controller.nextGeneration(&controller.tableGeneration)

	entries, fetchErr := controller.client.Feedback(ctx, productID)
	if fetchErr != nil {
		return fmt.Errorf("dashboard: load feedback for product %d: %w", productID, fetchErr)
	}
	tableView := RenderFeedbackTable(entries)

	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	if generation != controller.tableGeneration {
		controller.logStale(panelFeedbackTable, productID)
		return nil
	}
	controller.surface.RenderFeedbackTable(tableView)
	return nil
}

// GenerateInsights fetches and shows insights for the current selection.
func (controller *Controller) GenerateInsights(ctx context.Context) error {
	controller.mutex.Lock()
	if !controller.hasSelection {
		controller.mutex.Unlock()
		return ErrNoSelection
	}
	productID := controller.selectedProductID
	controller.insightsGeneration++
	generation := controller.insightsGeneration
	controller.mutex.Unlock()

	insights, fetchErr := controller.client.Insights(ctx, productID)
	if fetchErr != nil {
		return fmt.Errorf("dashboard: load insights for product %d: %w", productID, fetchErr)
	}
	listView := RenderInsights(insights)

	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	if generation != controller.insightsGeneration {
		controller.logStale(panelInsights, productID)
		return nil
	}
	controller.surface.RenderInsights(listView)
	return nil
}

// ClearInsights empties the insights list and drops any in-flight insights response.
func (controller *Controller) ClearInsights() {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	controller.clearInsightsLocked()
}

func (controller *Controller) SelectedProductID() (uint, bool) {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.selectedProductID, controller.hasSelection
}

// Products returns the loaded catalog in display order.
func (controller *Controller) Products() []Product {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return append([]Product(nil), controller.products...)
}

func (controller *Controller) refreshPanels(ctx context.Context, productID uint) error {
	var group errgroup.Group
	group.Go(func() error {
		return controller.LoadStats(ctx, productID)
	})
	group.Go(func() error {
		return controller.LoadFeedbackTable(ctx, productID)
	})
	return group.Wait()
}

func (controller *Controller) showSubmitStatus() {
	controller.mutex.Lock()
	controller.bannerGeneration++
	generation := controller.bannerGeneration
	controller.surface.SetSubmitStatusVisible(true)
	controller.mutex.Unlock()

	controller.afterFunc(SubmitStatusDuration, func() {
		controller.mutex.Lock()
		defer controller.mutex.Unlock()
		if generation == controller.bannerGeneration {
			controller.surface.SetSubmitStatusVisible(false)
		}
	})
}

func (controller *Controller) nextGeneration(counter *uint64) uint64 {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	*counter++
	return *counter
}

func (controller *Controller) containsProductLocked(productID uint) bool {
	for _, product := range controller.products {
		if product.ID == productID {
			return true
		}
	}
	return false
}

func (controller *Controller) destroyChartsLocked() {
	if controller.sentimentChart != nil {
		controller.sentimentChart.Destroy()
		controller.sentimentChart = nil
	}
	if controller.themeChart != nil {
		controller.themeChart.Destroy()
		controller.themeChart = nil
	}
}

func (controller *Controller) clearInsightsLocked() {
	controller.insightsGeneration++
	controller.surface.RenderInsights(ListView{Items: []string{}})
}

func (controller *Controller) logStale(panel string, productID uint) {
	controller.logger.Debug(logMessageStaleResponse, zap.String(logFieldPanel, panel), zap.Uint(logFieldProductID, productID))
}
