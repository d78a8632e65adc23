package api

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/analysis"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
)

// ProductStatisticsProvider exposes aggregate feedback figures for a product.
type ProductStatisticsProvider interface {
	SentimentCounts(ctx context.Context, productID uint) (analysis.SentimentCounts, error)
	ThemeCounts(ctx context.Context, productID uint) ([]analysis.ThemeCount, error)
}

// DatabaseProductStatisticsProvider implements ProductStatisticsProvider using GORM.
type DatabaseProductStatisticsProvider struct {
	database *gorm.DB
}

// NewDatabaseProductStatisticsProvider builds a statistics provider backed by the primary database.
func NewDatabaseProductStatisticsProvider(database *gorm.DB) *DatabaseProductStatisticsProvider {
	return &DatabaseProductStatisticsProvider{database: database}
}

// SentimentCounts counts positive and negative feedback for a product.
func (provider *DatabaseProductStatisticsProvider) SentimentCounts(ctx context.Context, productID uint) (analysis.SentimentCounts, error) {
	var counts analysis.SentimentCounts
	positiveErr := provider.database.WithContext(ctx).
		Model(&model.Feedback{}).
		Where("product_id = ? AND sentiment = ?", productID, model.SentimentPositive).
		Count(&counts.Positive).Error
	if positiveErr != nil {
		return analysis.SentimentCounts{}, positiveErr
	}
	negativeErr := provider.database.WithContext(ctx).
		Model(&model.Feedback{}).
		Where("product_id = ? AND sentiment = ?", productID, model.SentimentNegative).
		Count(&counts.Negative).Error
	if negativeErr != nil {
		return analysis.SentimentCounts{}, negativeErr
	}
	return counts, nil
}

// ThemeCounts counts feedback mentioning each known theme, in reporting order.
func (provider *DatabaseProductStatisticsProvider) ThemeCounts(ctx context.Context, productID uint) ([]analysis.ThemeCount, error) {
	themeNames := analysis.ThemeNames()
	counts := make([]analysis.ThemeCount, 0, len(themeNames))
	for _, themeName := range themeNames {
		var mentionCount int64
		queryErr := provider.database.WithContext(ctx).
			Model(&model.Feedback{}).
			Where("product_id = ? AND themes LIKE ?", productID, fmt.Sprintf("%%%s%%", themeName)).
			Count(&mentionCount).Error
		if queryErr != nil {
			return nil, queryErr
		}
		counts = append(counts, analysis.ThemeCount{Name: themeName, Count: mentionCount})
	}
	return counts, nil
}

func loadProductSummary(ctx context.Context, provider ProductStatisticsProvider, productID uint) (analysis.ProductSummary, error) {
	sentiments, sentimentErr := provider.SentimentCounts(ctx, productID)
	if sentimentErr != nil {
		return analysis.ProductSummary{}, sentimentErr
	}
	themes, themesErr := provider.ThemeCounts(ctx, productID)
	if themesErr != nil {
		return analysis.ProductSummary{}, themesErr
	}
	return analysis.ProductSummary{Sentiments: sentiments, Themes: themes}, nil
}
