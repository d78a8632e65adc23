package dashboard

import (
	"sync"
	"time"
)

// Form field names, matching the page element ids.
const (
	FieldProduct = "product"
	FieldRating  = "rating"
	FieldText    = "text"
)

// Chart is a live chart instance owned by a Surface.
type Chart interface {
	Destroy()
}

// Surface receives rendered views. Implementations must not call back into the Controller.
type Surface interface {
	RenderProductSelect(view SelectView)
	CreateChart(spec ChartSpec) Chart
	RenderFeedbackTable(view TableView)
	RenderInsights(view ListView)
	SetSubmitStatusVisible(visible bool)
}

// FormReader exposes submitted form values by field name.
type FormReader interface {
	Value(field string) string
}

// FormValues is a FormReader backed by a map.
type FormValues map[string]string

func (values FormValues) Value(field string) string {
	return values[field]
}

// RecordedChart is a chart held by a RecordingSurface.
type RecordedChart struct {
	Spec      ChartSpec
	surface   *RecordingSurface
	destroyed bool
}

func (chart *RecordedChart) Destroy() {
	chart.surface.mutex.Lock()
	defer chart.surface.mutex.Unlock()
	chart.destroyed = true
}

// Destroyed reports whether Destroy was called.
func (chart *RecordedChart) Destroyed() bool {
	chart.surface.mutex.Lock()
	defer chart.surface.mutex.Unlock()
	return chart.destroyed
}

// SurfaceSnapshot is the visible state of a RecordingSurface.
type SurfaceSnapshot struct {
	Select              SelectView
	SentimentChart      *ChartSpec
	ThemeChart          *ChartSpec
	Table               TableView
	Insights            ListView
	SubmitStatusVisible bool
	SubmitStatusShownAt time.Time
	LiveChartCount      map[string]int
	CreatedChartCount   int
}

// RecordingSurface keeps the latest rendered views in memory.
type RecordingSurface struct {
	mutex               sync.Mutex
	now                 func() time.Time
	selectView          SelectView
	tableView           TableView
	insightsView        ListView
	charts              []*RecordedChart
	createdChartCount   int
	submitStatusVisible bool
	submitStatusShownAt time.Time
}

// NewRecordingSurface returns an empty surface. A nil clock defaults to time.Now.
func NewRecordingSurface(now func() time.Time) *RecordingSurface {
	if now == nil {
		now = time.Now
	}
	return &RecordingSurface{now: now, selectView: SelectView{Disabled: true}}
}

func (surface *RecordingSurface) RenderProductSelect(view SelectView) {
	surface.mutex.Lock()
	defer surface.mutex.Unlock()
	surface.selectView = view
}

func (surface *RecordingSurface) CreateChart(spec ChartSpec) Chart {
	surface.mutex.Lock()
	defer surface.mutex.Unlock()
	chart := &RecordedChart{Spec: spec, surface: surface}
	liveCharts := surface.charts[:0]
	for _, existing := range surface.charts {
		if !existing.destroyed {
			liveCharts = append(liveCharts, existing)
		}
	}
	surface.charts = append(liveCharts, chart)
	surface.createdChartCount++
	return chart
}

func (surface *RecordingSurface) RenderFeedbackTable(view TableView) {
	surface.mutex.Lock()
	defer surface.mutex.Unlock()
	surface.tableView = view
}

func (surface *RecordingSurface) RenderInsights(view ListView) {
	surface.mutex.Lock()
	defer surface.mutex.Unlock()
	surface.insightsView = view
}

func (surface *RecordingSurface) SetSubmitStatusVisible(visible bool) {
	surface.mutex.Lock()
	defer surface.mutex.Unlock()
	surface.submitStatusVisible = visible
	if visible {
		surface.submitStatusShownAt = surface.now()
	}
}

// Snapshot returns the current views and the live chart instances per target.
func (surface *RecordingSurface) Snapshot() SurfaceSnapshot {
	surface.mutex.Lock()
	defer surface.mutex.Unlock()

	snapshot := SurfaceSnapshot{
		Select:              surface.selectView,
		Table:               surface.tableView,
		Insights:            surface.insightsView,
		SubmitStatusVisible: surface.submitStatusVisible,
		SubmitStatusShownAt: surface.submitStatusShownAt,
		LiveChartCount:      map[string]int{},
		CreatedChartCount:   surface.createdChartCount,
	}
	for _, chart := range surface.charts {
		if chart.destroyed {
			continue
		}
		snapshot.LiveChartCount[chart.Spec.Target]++
		spec := chart.Spec
		switch spec.Target {
		case SentimentChartTarget:
			snapshot.SentimentChart = &spec
		case ThemeChartTarget:
			snapshot.ThemeChart = &spec
		}
	}
	return snapshot
}
