package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
)

const (
	spreadsheetContentType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	spreadsheetFileNamePattern   = "feedback-%s.xlsx"
	spreadsheetTimestampLayout   = "2006-01-02 15:04:05"
	contentDispositionHeaderName = "Content-Disposition"
)

var spreadsheetHeaderRow = []any{"Rating", "Sentiment", "Themes", "Text", "Created At"}

// ExportFeedback returns the product's feedback as an XLSX workbook.
func (handlers *Handlers) ExportFeedback(context *gin.Context) {
	productID, ok := parseProductID(context)
	if !ok {
		return
	}

	requestContext := context.Request.Context()
	product, found := handlers.findProduct(context, "id = ?", productID)
	if !found {
		return
	}

	var feedbacks []model.Feedback
	if err := handlers.database.WithContext(requestContext).
		Where("product_id = ?", product.ID).
		Order("id asc").
		Find(&feedbacks).Error; err != nil {
		handlers.logger.Warn("export_feedback_query", zap.Error(err), zap.Uint("product_id", product.ID))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	workbookBytes, workbookErr := buildFeedbackWorkbook(feedbacks)
	if workbookErr != nil {
		handlers.logger.Warn("export_feedback_workbook", zap.Error(workbookErr), zap.Uint("product_id", product.ID))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueExportFailed})
		return
	}

	context.Header(contentDispositionHeaderName, fmt.Sprintf("attachment; filename=%q", fmt.Sprintf(spreadsheetFileNamePattern, product.SKU)))
	context.Data(http.StatusOK, spreadsheetContentType, workbookBytes)
}

func buildFeedbackWorkbook(feedbacks []model.Feedback) ([]byte, error) {
	workbook := excelize.NewFile()
	defer func() {
		_ = workbook.Close()
	}()

	sheetName := workbook.GetSheetName(workbook.GetActiveSheetIndex())
	if err := workbook.SetSheetRow(sheetName, "A1", &spreadsheetHeaderRow); err != nil {
		return nil, err
	}

	for feedbackIndex, feedback := range feedbacks {
		cellName, cellErr := excelize.CoordinatesToCellName(1, feedbackIndex+2)
		if cellErr != nil {
			return nil, cellErr
		}
		row := []any{
			feedback.Rating,
			feedback.Sentiment,
			feedback.Themes,
			feedback.Text,
			feedback.CreatedAt.UTC().Format(spreadsheetTimestampLayout),
		}
		if err := workbook.SetSheetRow(sheetName, cellName, &row); err != nil {
			return nil, err
		}
	}

	buffer, writeErr := workbook.WriteToBuffer()
	if writeErr != nil {
		return nil, writeErr
	}
	return buffer.Bytes(), nil
}
