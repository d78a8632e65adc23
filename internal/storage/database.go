package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
)

const (
	// DriverNameSQLite identifies the SQLite driver implementation.
	DriverNameSQLite = "sqlite"

	defaultSlowQueryThreshold = 200 * time.Millisecond
	sqliteBusyTimeoutMillis   = 5000
	sqliteFileMaxOpenConns    = 1
	sqliteMemoryMarker        = "mode=memory"
	sqliteMemoryPath          = ":memory:"
	sqlitePragmaParameter     = "_pragma"

	logEventSlowQuery  = "slow_query"
	logEventQueryError = "query_failed"
	logFieldSQL        = "sql"
	logFieldRows       = "rows"
	logFieldElapsed    = "dur"
)

var (
	// ErrMissingDatabaseDriverName indicates the database driver name configuration was omitted.
	ErrMissingDatabaseDriverName = errors.New("storage: missing database driver name")
	// ErrUnsupportedDatabaseDriver indicates the provided database driver is not supported.
	ErrUnsupportedDatabaseDriver = errors.New("storage: unsupported database driver")
	// ErrMissingDataSourceName indicates the database data source name configuration was omitted.
	ErrMissingDataSourceName = errors.New("storage: missing database data source name")
	// ErrNilDatabase is returned by helpers that received no handle.
	ErrNilDatabase = errors.New("storage: nil database")
)

// Config captures database connection configuration.
type Config struct {
	DriverName     string
	DataSourceName string
	// Logger receives slow queries and query failures. Nil keeps gorm silent.
	Logger             *zap.Logger
	SlowQueryThreshold time.Duration
}

type databaseOpener func(Config) (*gorm.DB, error)

var databaseOpeners = map[string]databaseOpener{
	DriverNameSQLite: openSQLiteDatabase,
}

// OpenDatabase opens a database connection using the configured driver and data source name.
func OpenDatabase(configuration Config) (*gorm.DB, error) {
	driverName := strings.TrimSpace(configuration.DriverName)
	if driverName == "" {
		return nil, ErrMissingDatabaseDriverName
	}
	opener, supported := databaseOpeners[driverName]
	if !supported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDatabaseDriver, driverName)
	}

	configuration.DriverName = driverName
	configuration.DataSourceName = strings.TrimSpace(configuration.DataSourceName)
	database, openErr := opener(configuration)
	if openErr != nil {
		return nil, fmt.Errorf("storage: open database: %w", openErr)
	}
	return database, nil
}

func openSQLiteDatabase(configuration Config) (*gorm.DB, error) {
	if configuration.DataSourceName == "" {
		return nil, ErrMissingDataSourceName
	}

	dataSourceName, inMemory := sqliteDataSourceName(configuration.DataSourceName)
	database, openErr := gorm.Open(sqlite.Open(dataSourceName), &gorm.Config{
		Logger: newQueryLogger(configuration.Logger, configuration.SlowQueryThreshold),
	})
	if openErr != nil {
		return nil, fmt.Errorf("storage: open sqlite database: %w", openErr)
	}

	// SQLite serializes writers; one connection per file avoids SQLITE_BUSY under concurrent submissions.
	if !inMemory {
		sqlDatabase, sqlErr := database.DB()
		if sqlErr != nil {
			return nil, fmt.Errorf("storage: open sqlite database: %w", sqlErr)
		}
		sqlDatabase.SetMaxOpenConns(sqliteFileMaxOpenConns)
	}
	return database, nil
}

// sqliteDataSourceName adds busy timeout, WAL and foreign key pragmas to file databases.
// Shared in-memory databases and DSNs that already carry pragmas pass through unchanged.
func sqliteDataSourceName(dataSourceName string) (string, bool) {
	if dataSourceName == sqliteMemoryPath || strings.Contains(dataSourceName, sqliteMemoryMarker) {
		return dataSourceName, true
	}
	if strings.Contains(dataSourceName, sqlitePragmaParameter+"=") {
		return dataSourceName, false
	}

	pragmas := url.Values{}
	pragmas.Add(sqlitePragmaParameter, fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeoutMillis))
	pragmas.Add(sqlitePragmaParameter, "journal_mode(WAL)")
	pragmas.Add(sqlitePragmaParameter, "foreign_keys(1)")

	separator := "?"
	if strings.Contains(dataSourceName, "?") {
		separator = "&"
	}
	return dataSourceName + separator + pragmas.Encode(), false
}

// AutoMigrate creates or updates the product and feedback tables.
func AutoMigrate(database *gorm.DB) error {
	if database == nil {
		return ErrNilDatabase
	}
	if err := database.AutoMigrate(&model.Product{}, &model.Feedback{}); err != nil {
		return fmt.Errorf("storage: migrate database: %w", err)
	}
	return nil
}

// Ping verifies the underlying connection is usable.
func Ping(ctx context.Context, database *gorm.DB) error {
	if database == nil {
		return ErrNilDatabase
	}
	sqlDatabase, sqlErr := database.DB()
	if sqlErr != nil {
		return fmt.Errorf("storage: ping: %w", sqlErr)
	}
	if pingErr := sqlDatabase.PingContext(ctx); pingErr != nil {
		return fmt.Errorf("storage: ping: %w", pingErr)
	}
	return nil
}

// Close releases the connection pool. A nil database is a no-op.
func Close(database *gorm.DB) error {
	if database == nil {
		return nil
	}
	sqlDatabase, sqlErr := database.DB()
	if sqlErr != nil {
		return sqlErr
	}
	return sqlDatabase.Close()
}

// queryLogger routes gorm diagnostics to zap: failures at warn, slow queries at info.
type queryLogger struct {
	logger        *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newQueryLogger(logger *zap.Logger, slowThreshold time.Duration) gormlogger.Interface {
	if logger == nil {
		return gormlogger.Discard
	}
	if slowThreshold <= 0 {
		slowThreshold = defaultSlowQueryThreshold
	}
	return &queryLogger{logger: logger, level: gormlogger.Warn, slowThreshold: slowThreshold}
}

func (queryLog *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	copied := *queryLog
	copied.level = level
	return &copied
}

func (queryLog *queryLogger) Info(_ context.Context, message string, arguments ...interface{}) {
	if queryLog.level >= gormlogger.Info {
		queryLog.logger.Info(fmt.Sprintf(message, arguments...))
	}
}

func (queryLog *queryLogger) Warn(_ context.Context, message string, arguments ...interface{}) {
	if queryLog.level >= gormlogger.Warn {
		queryLog.logger.Warn(fmt.Sprintf(message, arguments...))
	}
}

func (queryLog *queryLogger) Error(_ context.Context, message string, arguments ...interface{}) {
	if queryLog.level >= gormlogger.Error {
		queryLog.logger.Error(fmt.Sprintf(message, arguments...))
	}
}

func (queryLog *queryLogger) Trace(_ context.Context, begin time.Time, statement func() (string, int64), err error) {
	if queryLog.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && queryLog.level >= gormlogger.Error:
		sql, rows := statement()
		queryLog.logger.Warn(logEventQueryError,
			zap.String(logFieldSQL, sql),
			zap.Int64(logFieldRows, rows),
			zap.Duration(logFieldElapsed, elapsed),
			zap.Error(err),
		)
	case elapsed > queryLog.slowThreshold && queryLog.level >= gormlogger.Warn:
		sql, rows := statement()
		queryLog.logger.Info(logEventSlowQuery,
			zap.String(logFieldSQL, sql),
			zap.Int64(logFieldRows, rows),
			zap.Duration(logFieldElapsed, elapsed),
		)
	}
}
