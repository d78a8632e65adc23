// Package testutil opens throwaway SQLite databases and inserts fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/storage"
)

const sharedMemoryDataSourcePattern = "file:feedback-dashboard-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)"

// SQLiteTestDatabase names a shared in-memory database private to one test.
type SQLiteTestDatabase struct {
	dataSourceName string
	logger         *zap.Logger
}

// NewSQLiteTestDatabase reserves a unique database name. Query failures are written to the test log.
func NewSQLiteTestDatabase(testingT testing.TB) SQLiteTestDatabase {
	testingT.Helper()
	return SQLiteTestDatabase{
		dataSourceName: fmt.Sprintf(sharedMemoryDataSourcePattern, uuid.NewString()),
		logger:         zaptest.NewLogger(testingT, zaptest.Level(zap.WarnLevel)),
	}
}

func (database SQLiteTestDatabase) Configuration() storage.Config {
	return storage.Config{
		DriverName:     storage.DriverNameSQLite,
		DataSourceName: database.dataSourceName,
		Logger:         database.logger,
	}
}

func (database SQLiteTestDatabase) DataSourceName() string {
	return database.dataSourceName
}

// Open connects to the database and closes it when the test ends.
func (database SQLiteTestDatabase) Open(testingT testing.TB) *gorm.DB {
	testingT.Helper()
	opened, openErr := storage.OpenDatabase(database.Configuration())
	if openErr != nil {
		testingT.Fatalf("open test database: %v", openErr)
	}
	testingT.Cleanup(func() {
		_ = storage.Close(opened)
	})
	return opened
}

// OpenMigratedDatabase opens a fresh database with the product and feedback tables.
func OpenMigratedDatabase(testingT testing.TB) *gorm.DB {
	testingT.Helper()
	database := NewSQLiteTestDatabase(testingT).Open(testingT)
	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		testingT.Fatalf("migrate test database: %v", migrateErr)
	}
	return database
}

// SeedDefaultCatalog stores the built-in catalog and returns it in id order.
func SeedDefaultCatalog(testingT testing.TB, database *gorm.DB) []model.Product {
	testingT.Helper()
	if _, seedErr := storage.SeedCatalog(context.Background(), database, storage.DefaultCatalog()); seedErr != nil {
		testingT.Fatalf("seed catalog: %v", seedErr)
	}
	var products []model.Product
	if queryErr := database.Order("id asc").Find(&products).Error; queryErr != nil {
		testingT.Fatalf("load seeded catalog: %v", queryErr)
	}
	return products
}

func InsertProduct(testingT testing.TB, database *gorm.DB, sku string, name string) model.Product {
	testingT.Helper()
	product, productErr := model.NewProduct(sku, name)
	if productErr != nil {
		testingT.Fatalf("build product: %v", productErr)
	}
	if createErr := database.Create(&product).Error; createErr != nil {
		testingT.Fatalf("insert product %s: %v", sku, createErr)
	}
	return product
}

// InsertFeedback stores feedback as given; classification is left to the caller.
func InsertFeedback(testingT testing.TB, database *gorm.DB, feedback model.Feedback) model.Feedback {
	testingT.Helper()
	if createErr := database.Create(&feedback).Error; createErr != nil {
		testingT.Fatalf("insert feedback for product %d: %v", feedback.ProductID, createErr)
	}
	return feedback
}
