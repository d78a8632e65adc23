package model

import (
	"errors"
	"strings"
	"time"
)

const (
	SentimentPositive = "Positive"
	SentimentNegative = "Negative"

	productSKUMaxLength  = 64
	productNameMaxLength = 200
	themeSeparator       = ","
)

var (
	ErrInvalidProductSKU  = errors.New("invalid_product_sku")
	ErrInvalidProductName = errors.New("invalid_product_name")
)

// Product is a catalog item feedback can be attached to.
type Product struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SKU       string    `gorm:"uniqueIndex;not null;size:64"`
	Name      string    `gorm:"not null;size:200"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Feedback is one submitted rating with its classification.
type Feedback struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	ProductID uint      `gorm:"index;not null"`
	Rating    int       `gorm:"not null"`
	Text      string    `gorm:"type:text;not null"`
	Sentiment string    `gorm:"size:10;index"`
	Themes    string    `gorm:"size:200"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// NewProduct constructs a Product with normalized fields.
func NewProduct(sku string, name string) (Product, error) {
	normalizedSKU := strings.TrimSpace(sku)
	if normalizedSKU == "" || len(normalizedSKU) > productSKUMaxLength {
		return Product{}, ErrInvalidProductSKU
	}
	normalizedName := strings.TrimSpace(name)
	if normalizedName == "" || len(normalizedName) > productNameMaxLength {
		return Product{}, ErrInvalidProductName
	}
	return Product{SKU: normalizedSKU, Name: normalizedName}, nil
}

// ThemeList splits the stored theme column.
func (feedback Feedback) ThemeList() []string {
	if strings.TrimSpace(feedback.Themes) == "" {
		return nil
	}
	parts := strings.Split(feedback.Themes, themeSeparator)
	themes := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			themes = append(themes, trimmed)
		}
	}
	return themes
}

// JoinThemes encodes themes for the Themes column.
func JoinThemes(themes []string) string {
	return strings.Join(themes, themeSeparator)
}
