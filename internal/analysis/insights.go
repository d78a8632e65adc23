package analysis

const (
	InsightNegativeOverall    = "Overall customer sentiment is negative. Key issues should be investigated urgently."
	InsightDurabilityIssues   = "Multiple durability-related complaints detected. Improve material strength and build quality."
	InsightComfortIssues      = "Comfort issues are frequently mentioned. Consider lighter and more wearable designs."
	InsightAppearancePraised  = "Appearance is positively received. Highlight design and finish in marketing."
	InsightBalancedNoActivity = "Feedback is balanced. No strong actionable insight at this time."
)

// SentimentCounts aggregates classified feedback for one product.
type SentimentCounts struct {
	Positive int64
	Negative int64
}

// ThemeCount is the number of feedback entries mentioning a theme.
type ThemeCount struct {
	Name  string
	Count int64
}

// ProductSummary is the aggregate a product's insights are derived from.
type ProductSummary struct {
	Sentiments SentimentCounts
	Themes     []ThemeCount
}

func (summary ProductSummary) themeCount(name string) int64 {
	for _, theme := range summary.Themes {
		if theme.Name == name {
			return theme.Count
		}
	}
	return 0
}

// Insights applies the insight rules in order; the result is never empty.
func Insights(summary ProductSummary) []string {
	positive := summary.Sentiments.Positive
	negative := summary.Sentiments.Negative

	var insights []string
	if negative > positive {
		insights = append(insights, InsightNegativeOverall)
	}
	if summary.themeCount(ThemeDurability) > 0 && negative >= positive {
		insights = append(insights, InsightDurabilityIssues)
	}
	if summary.themeCount(ThemeComfort) > 0 && negative >= positive {
		insights = append(insights, InsightComfortIssues)
	}
	if summary.themeCount(ThemeAppearance) > 0 && positive > negative {
		insights = append(insights, InsightAppearancePraised)
	}
	if len(insights) == 0 {
		insights = append(insights, InsightBalancedNoActivity)
	}
	return insights
}
