package dashboard

import (
	"strconv"
)

const (
	SentimentChartTarget = "sentimentChart"
	ThemeChartTarget     = "themeChart"

	chartTypePie = "pie"
	chartTypeBar = "bar"

	sentimentLabelPositive = "Positive"
	sentimentLabelNegative = "Negative"
	sentimentColorPositive = "#ff6384"
	sentimentColorNegative = "#36a2eb"
	themeDatasetLabel      = "Mentions"
	themeDatasetColor      = "#4dabf7"
)

// SelectOption is one entry of the product selector.
type SelectOption struct {
	ProductID uint
	SKU       string
	Label     string
	Selected  bool
}

// SelectView is the rendered product selector.
type SelectView struct {
	Options  []SelectOption
	Disabled bool
}

// ChartDataset is a Chart.js dataset.
type ChartDataset struct {
	Label           string  `json:"label,omitempty"`
	Data            []int64 `json:"data"`
	BackgroundColor any     `json:"backgroundColor"`
}

// ChartData is the Chart.js data block.
type ChartData struct {
	Labels   []string       `json:"labels"`
	Datasets []ChartDataset `json:"datasets"`
}

// ChartSpec marshals to a Chart.js configuration; Target names the canvas.
type ChartSpec struct {
	Target string    `json:"-"`
	Type   string    `json:"type"`
	Data   ChartData `json:"data"`
}

// TableRow holds the rating, sentiment, and text cells of one entry.
type TableRow struct {
	Cells []string
}

// TableView is the rendered feedback table body.
type TableView struct {
	Rows []TableRow
}

// ListView is the rendered insights list.
type ListView struct {
	Items []string
}

// RenderProductSelect lists products in order and marks selectedID as selected.
// An empty catalog yields a disabled selector.
func RenderProductSelect(products []Product, selectedID uint) SelectView {
	view := SelectView{Options: make([]SelectOption, 0, len(products)), Disabled: len(products) == 0}
	for _, product := range products {
		view.Options = append(view.Options, SelectOption{
			ProductID: product.ID,
			SKU:       product.SKU,
			Label:     product.Name,
			Selected:  product.ID == selectedID,
		})
	}
	return view
}

func RenderSentimentChart(summary StatsSummary) ChartSpec {
	return ChartSpec{
		Target: SentimentChartTarget,
		Type:   chartTypePie,
		Data: ChartData{
			Labels: []string{sentimentLabelPositive, sentimentLabelNegative},
			Datasets: []ChartDataset{{
				Data:            []int64{summary.Sentiments.Positive, summary.Sentiments.Negative},
				BackgroundColor: []string{sentimentColorPositive, sentimentColorNegative},
			}},
		},
	}
}

// RenderThemeChart keeps the theme order of the stats payload.
func RenderThemeChart(summary StatsSummary) ChartSpec {
	return ChartSpec{
		Target: ThemeChartTarget,
		Type:   chartTypeBar,
		Data: ChartData{
			Labels: summary.Themes.Names(),
			Datasets: []ChartDataset{{
				Label:           themeDatasetLabel,
				Data:            summary.Themes.Counts(),
				BackgroundColor: themeDatasetColor,
			}},
		},
	}
}

func RenderFeedbackTable(entries []FeedbackEntry) TableView {
	view := TableView{Rows: make([]TableRow, 0, len(entries))}
	for _, entry := range entries {
		view.Rows = append(view.Rows, TableRow{Cells: []string{strconv.Itoa(entry.Rating), entry.Sentiment, entry.Text}})
	}
	return view
}

func RenderInsights(insights []string) ListView {
	items := make([]string, len(insights))
	copy(items, insights)
	return ListView{Items: items}
}
