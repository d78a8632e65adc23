package httpapi

import (
	"bytes"
	"html/template"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/api"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/dashboard"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/pkg/footer"
)

const (
	dashboardTemplateName    = "dashboard"
	dashboardHTMLContentType = "text/html; charset=utf-8"
	dashboardPageTitle       = "Product Feedback Dashboard"
	dashboardFooterBrandText = "Product Feedback Dashboard"
	dashboardFooterElementID = "dashboardFooter"
	dashboardFooterBaseClass = "border-top py-3 mt-4 text-body-secondary"
	dashboardFooterLinkClass = "link-secondary me-3"
	dashboardFooterTimeFmt   = "2006-01-02 15:04:05 MST"
	dashboardLiveStatusText  = "Live updates enabled"
	productIDPathParameter   = ":id"

	// Element ids used by the page script and by tests.
	ProductSelectElementID  = "product"
	RatingInputElementID    = "rating"
	TextInputElementID      = "text"
	SubmitStatusElementID   = "submitStatus"
	SentimentChartElementID = dashboard.SentimentChartTarget
	ThemeChartElementID     = dashboard.ThemeChartTarget
	FeedbackTableElementID  = "feedbackTable"
	InsightsElementID       = "insights"
	DashboardErrorElementID = "dashboardError"
	FeedbackFormElementID   = "feedbackForm"
)

var dashboardPageTemplate = template.Must(template.New(dashboardTemplateName).Parse(dashboardTemplateHTML))

// DashboardPage is everything the dashboard template renders.
type DashboardPage struct {
	Title                             string
	FeedbackPath                      string
	SelectPath                        string
	InsightsPath                      string
	Select                            dashboard.SelectView
	HasSelection                      bool
	SentimentChart                    *dashboard.ChartSpec
	ThemeChart                        *dashboard.ChartSpec
	Table                             dashboard.TableView
	Insights                          dashboard.ListView
	SubmitStatusVisible               bool
	SubmitStatusRemainingMilliseconds int64
	Errors                            []string
	EventsURL                         string
	ExportURL                         string
	RefreshURL                        string
	FooterHTML                        template.HTML
}

// NewDashboardPage converts a surface snapshot into page data.
// API links are prefixed with apiBaseURL; empty keeps them on the page's own host.
func NewDashboardPage(apiBaseURL string, snapshot dashboard.SurfaceSnapshot, selectedProductID uint, hasSelection bool, errorMessages []string, now time.Time) DashboardPage {
	page := DashboardPage{
		Title:          dashboardPageTitle,
		FeedbackPath:   DashboardFeedbackPath,
		SelectPath:     DashboardSelectPath,
		InsightsPath:   DashboardInsightsPath,
		Select:         snapshot.Select,
		HasSelection:   hasSelection,
		SentimentChart: snapshot.SentimentChart,
		ThemeChart:     snapshot.ThemeChart,
		Table:          snapshot.Table,
		Insights:       snapshot.Insights,
		Errors:         errorMessages,
		RefreshURL:     DashboardPath + "?" + refreshQueryParameter + "=1",
	}

	if snapshot.SubmitStatusVisible {
		remaining := dashboard.SubmitStatusDuration - now.Sub(snapshot.SubmitStatusShownAt)
		if remaining > 0 {
			page.SubmitStatusVisible = true
			page.SubmitStatusRemainingMilliseconds = remaining.Milliseconds()
		}
	}

	apiBaseURL = strings.TrimRight(apiBaseURL, "/")
	footerLinks := []footer.Link{{Label: "Products API", URL: apiBaseURL + api.RouteProducts}}
	liveStatus := ""
	if hasSelection {
		productRoute := func(route string) string {
			return apiBaseURL + strings.Replace(route, productIDPathParameter, strconv.FormatUint(uint64(selectedProductID), 10), 1)
		}
		page.EventsURL = productRoute(api.RouteFeedbackEvents)
		page.ExportURL = productRoute(api.RouteFeedbackExport)
		footerLinks = append(footerLinks,
			footer.Link{Label: "Stats API", URL: productRoute(api.RouteStatsByID)},
			footer.Link{Label: "Feedback API", URL: productRoute(api.RouteFeedbackByID)},
		)
		liveStatus = dashboardLiveStatusText
	}
	footerHTML, footerErr := footer.Render(footer.Config{
		ElementID:  dashboardFooterElementID,
		BaseClass:  dashboardFooterBaseClass,
		BrandText:  dashboardFooterBrandText,
		LinkClass:  dashboardFooterLinkClass,
		Links:      footerLinks,
		UpdatedAt:  now.UTC().Format(dashboardFooterTimeFmt),
		LiveStatus: liveStatus,
	})
	if footerErr == nil {
		page.FooterHTML = footerHTML
	}
	return page
}

// RenderDashboardPage writes the dashboard HTML. Nothing is written when rendering fails.
func RenderDashboardPage(writer io.Writer, page DashboardPage) error {
	var buffer bytes.Buffer
	if executeErr := dashboardPageTemplate.Execute(&buffer, page); executeErr != nil {
		return executeErr
	}
	_, writeErr := buffer.WriteTo(writer)
	return writeErr
}
