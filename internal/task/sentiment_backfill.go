package task

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/analysis"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
)

const defaultBackfillBatchSize = 200

// SentimentBackfillConfig defines backfill behavior.
type SentimentBackfillConfig struct {
	BatchSize int
}

// SentimentBackfillJob classifies stored feedback that has no sentiment yet,
// such as rows imported by other tools.
type SentimentBackfillJob struct {
	database *gorm.DB
	logger   *zap.Logger
	config   SentimentBackfillConfig
}

func NewSentimentBackfillJob(database *gorm.DB, logger *zap.Logger, config SentimentBackfillConfig) *SentimentBackfillJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBackfillBatchSize
	}
	return &SentimentBackfillJob{
		database: database,
		logger:   logger,
		config:   config,
	}
}

// SentimentBackfillJobName identifies the backfill in scheduler logs.
const SentimentBackfillJobName = "sentiment_backfill"

func (job *SentimentBackfillJob) Name() string {
	return SentimentBackfillJobName
}

// Run classifies unclassified feedback in batches until none remain and returns the number of rows classified.
func (job *SentimentBackfillJob) Run(ctx context.Context) (int, error) {
	classified := 0
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return classified, ctxErr
		}
		var pending []model.Feedback
		if err := job.database.WithContext(ctx).
			Where("sentiment = ? OR sentiment IS NULL", "").
			Order("id asc").
			Limit(job.config.BatchSize).
			Find(&pending).Error; err != nil {
			return classified, fmt.Errorf("task: load unclassified feedback: %w", err)
		}
		if len(pending) == 0 {
			break
		}
		for _, feedback := range pending {
			classification := analysis.Classify(feedback.Text)
			updateErr := job.database.WithContext(ctx).
				Model(&model.Feedback{}).
				Where("id = ?", feedback.ID).
				Updates(map[string]any{
					"sentiment": classification.Sentiment,
					"themes":    model.JoinThemes(classification.Themes),
				}).Error
			if updateErr != nil {
				return classified, fmt.Errorf("task: classify feedback %d: %w", feedback.ID, updateErr)
			}
			classified++
		}
		if len(pending) < job.config.BatchSize {
			break
		}
	}
	if classified > 0 {
		job.logger.Info(SentimentBackfillJobName, zap.Int("classified", classified))
	}
	return classified, nil
}
