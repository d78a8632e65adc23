package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
)

var (
	// ErrEmptyCatalog indicates a catalog file declared no products.
	ErrEmptyCatalog = errors.New("storage: catalog has no products")
	// ErrDuplicateCatalogSKU indicates two catalog entries share a SKU.
	ErrDuplicateCatalogSKU = errors.New("storage: duplicate catalog sku")
)

// CatalogEntry describes one product in a catalog seed file.
type CatalogEntry struct {
	SKU  string `yaml:"sku"`
	Name string `yaml:"name"`
}

type catalogDocument struct {
	Products []CatalogEntry `yaml:"products"`
}

// DefaultCatalog is seeded when no catalog file is configured.
func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		{SKU: "RING001", Name: "Aurora Gold Ring"},
		{SKU: "EARR002", Name: "Luna Silver Earrings"},
		{SKU: "NECK003", Name: "Solstice Necklace"},
	}
}

// LoadCatalogFile reads and validates a YAML catalog of the form
//
//	products:
//	  - sku: RING001
//	    name: Aurora Gold Ring
func LoadCatalogFile(path string) ([]CatalogEntry, error) {
	contents, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("storage: read catalog: %w", readErr)
	}
	return ParseCatalog(contents)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(contents []byte) ([]CatalogEntry, error) {
	var document catalogDocument
	if decodeErr := yaml.Unmarshal(contents, &document); decodeErr != nil {
		return nil, fmt.Errorf("storage: decode catalog: %w", decodeErr)
	}
	if validationErr := ValidateCatalog(document.Products); validationErr != nil {
		return nil, validationErr
	}
	return document.Products, nil
}

// ValidateCatalog reports the first invalid entry.
func ValidateCatalog(entries []CatalogEntry) error {
	if len(entries) == 0 {
		return ErrEmptyCatalog
	}
	seenSKUs := make(map[string]struct{}, len(entries))
	for entryIndex, entry := range entries {
		product, productErr := model.NewProduct(entry.SKU, entry.Name)
		if productErr != nil {
			return fmt.Errorf("storage: catalog entry %d: %w", entryIndex+1, productErr)
		}
		if _, duplicate := seenSKUs[product.SKU]; duplicate {
			return fmt.Errorf("%w: %s", ErrDuplicateCatalogSKU, product.SKU)
		}
		seenSKUs[product.SKU] = struct{}{}
	}
	return nil
}

// SeedCatalog inserts the catalog when the products table is empty and reports how many rows were written.
func SeedCatalog(ctx context.Context, database *gorm.DB, entries []CatalogEntry) (int, error) {
	if validationErr := ValidateCatalog(entries); validationErr != nil {
		return 0, validationErr
	}

	var existingCount int64
	if countErr := database.WithContext(ctx).Model(&model.Product{}).Count(&existingCount).Error; countErr != nil {
		return 0, fmt.Errorf("storage: count products: %w", countErr)
	}
	if existingCount > 0 {
		return 0, nil
	}

	products := make([]model.Product, 0, len(entries))
	for _, entry := range entries {
		product, _ := model.NewProduct(entry.SKU, entry.Name)
		products = append(products, product)
	}

	createErr := database.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return transaction.Create(&products).Error
	})
	if createErr != nil {
		return 0, fmt.Errorf("storage: seed catalog: %w", createErr)
	}
	return len(products), nil
}

