package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/storage"
)

const (
	commandUseName                      = "server"
	commandShortDescription             = "Run the feedback dashboard server"
	commandLongDescription              = "Serve the product feedback JSON API and the feedback dashboard page"
	missingConfigurationMessage         = "missing required configuration"
	invalidConfigurationMessage         = "invalid configuration"
	loggerCreationErrorMessage          = "logger"
	logEventListening                   = "listening"
	logEventShutdown                    = "shutdown"
	logEventCatalogSeeded               = "catalog_seeded"
	logFieldAddress                     = "addr"
	logFieldServeMode                   = "mode"
	logFieldCount                       = "count"
	flagNameApplicationAddress          = "app-addr"
	flagNameServeMode                   = "serve-mode"
	flagNameDatabaseDriver              = "db-driver"
	flagNameDatabaseDataSourceName      = "db-dsn"
	flagNameCatalogFile                 = "catalog-file"
	flagNameSessionSecret               = "session-secret"
	flagNameSessionSecureCookies        = "session-secure-cookies"
	flagNameAPIBaseURL                  = "api-base-url"
	flagNameBackfillInterval            = "backfill-interval"
	flagUsageApplicationAddress         = "address for the HTTP server to listen on"
	flagUsageServeMode                  = "surfaces to serve: monolith, web, or api"
	flagUsageDatabaseDriver             = "database driver name"
	flagUsageDatabaseDataSourceName     = "database data source name"
	flagUsageCatalogFile                = "YAML catalog seeded into an empty products table"
	flagUsageSessionSecret              = "secret used to sign dashboard session cookies"
	flagUsageSessionSecureCookies       = "mark dashboard session cookies as secure"
	flagUsageAPIBaseURL                 = "base URL of the feedback API; empty serves it in-process"
	flagUsageBackfillInterval           = "interval between sentiment backfill runs"
	environmentKeyApplicationAddress    = "APP_ADDR"
	environmentKeyServeMode             = "SERVE_MODE"
	environmentKeyDatabaseDriver        = "DB_DRIVER"
	environmentKeyDatabaseDataSource    = "DB_DSN"
	environmentKeyCatalogFile           = "CATALOG_FILE"
	environmentKeySessionSecret         = "SESSION_SECRET"
	environmentKeySessionSecureCookies  = "SESSION_SECURE_COOKIES"
	environmentKeyAPIBaseURL            = "API_BASE_URL"
	environmentKeyBackfillInterval      = "BACKFILL_INTERVAL"
	defaultApplicationAddress           = ":8080"
	defaultBackfillInterval             = "10m"
	defaultSessionSecureCookies         = "false"
	defaultEnvironmentFile              = ".env"
	loggerContextOpenDatabase           = "open_db"
	loggerContextAutoMigrate            = "migrate"
	loggerContextSeedCatalog            = "seed_catalog"
	loggerContextServer                 = "server"
	loggerNameDatabase                  = "gorm"
	readHeaderTimeoutSeconds            = 5
	shutdownTimeoutSeconds              = 10
	unexpectedArgumentsMessage          = "unexpected command arguments"
	commandInitializationFailure        = "failed to configure command"
	flagNotDefinedMessage               = "flag %s not defined"
	environmentConfigurationError       = "failed to apply environment configuration"
	environmentFileLoadError            = "failed to load environment file"
	minimumSessionSecretLength          = 16
	sessionSecretTooShortMessage        = "session secret must be at least 16 bytes"
	backfillIntervalNotPositiveMessage  = "backfill interval must be positive"
	catalogSourceDefault                = "default"
	logFieldCatalogSource               = "source"
	logFieldDatabaseDriver              = "driver"
	logEventDatabaseReady               = "database_ready"
	apiBaseURLInProcess                 = "in-process"
	logFieldAPIBaseURL                  = "api"
	logEventDashboardClientConfigured   = "dashboard_client_configured"
	logEventSchedulersStopped           = "schedulers_stopped"
	logEventFeedbackBroadcasterShutdown = "feedback_broadcaster_closed"
)

type configurationFlag struct {
	environmentKey string
	flagName       string
	defaultValue   string
	usage          string
}

var configurationFlags = []configurationFlag{
	{environmentKeyApplicationAddress, flagNameApplicationAddress, defaultApplicationAddress, flagUsageApplicationAddress},
	{environmentKeyServeMode, flagNameServeMode, string(ServeModeMonolith), flagUsageServeMode},
	{environmentKeyDatabaseDriver, flagNameDatabaseDriver, storage.DriverNameSQLite, flagUsageDatabaseDriver},
	{environmentKeyDatabaseDataSource, flagNameDatabaseDataSourceName, "", flagUsageDatabaseDataSourceName},
	{environmentKeyCatalogFile, flagNameCatalogFile, "", flagUsageCatalogFile},
	{environmentKeySessionSecret, flagNameSessionSecret, "", flagUsageSessionSecret},
	{environmentKeySessionSecureCookies, flagNameSessionSecureCookies, defaultSessionSecureCookies, flagUsageSessionSecureCookies},
	{environmentKeyAPIBaseURL, flagNameAPIBaseURL, "", flagUsageAPIBaseURL},
	{environmentKeyBackfillInterval, flagNameBackfillInterval, defaultBackfillInterval, flagUsageBackfillInterval},
}

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress     string
	ServeMode              ServeMode
	DatabaseDriverName     string
	DatabaseDataSourceName string
	CatalogFile            string
	SessionSecret          string
	SessionSecureCookies   bool
	APIBaseURL             string
	BackfillInterval       time.Duration
}

// DatabaseOpener opens a database connection using the provided storage configuration.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
	environmentFile     string
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
		environmentFile:     defaultEnvironmentFile,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// WithEnvironmentFile overrides the dotenv file loaded before flags are bound. An empty path disables loading.
func (application *ServerApplication) WithEnvironmentFile(path string) *ServerApplication {
	application.environmentFile = path
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if environmentErr := application.loadEnvironmentFile(); environmentErr != nil {
		return nil, environmentErr
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

// loadEnvironmentFile never overrides variables already present in the process environment.
func (application *ServerApplication) loadEnvironmentFile() error {
	if application.environmentFile == "" {
		return nil
	}
	if loadErr := godotenv.Load(application.environmentFile); loadErr != nil {
		if errors.Is(loadErr, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%s: %w", environmentFileLoadError, loadErr)
	}
	return nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	commandFlags := command.Flags()
	for _, configuration := range configurationFlags {
		application.configurationLoader.SetDefault(configuration.environmentKey, configuration.defaultValue)
		commandFlags.String(configuration.flagName, configuration.defaultValue, configuration.usage)
	}
	application.configurationLoader.AutomaticEnv()

	for _, configuration := range configurationFlags {
		if bindErr := application.bindFlag(commandFlags, configuration.environmentKey, configuration.flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, configuration.environmentKey, configuration.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadServerConfig() (ServerConfig, error) {
	loader := application.configurationLoader

	serveMode, serveModeErr := ParseServeMode(loader.GetString(environmentKeyServeMode))
	if serveModeErr != nil {
		return ServerConfig{}, fmt.Errorf("%s: %w", invalidConfigurationMessage, serveModeErr)
	}

	backfillInterval, intervalErr := time.ParseDuration(strings.TrimSpace(loader.GetString(environmentKeyBackfillInterval)))
	if intervalErr != nil {
		return ServerConfig{}, fmt.Errorf("%s: %s: %w", invalidConfigurationMessage, flagNameBackfillInterval, intervalErr)
	}
	if backfillInterval <= 0 {
		return ServerConfig{}, fmt.Errorf("%s: %s", invalidConfigurationMessage, backfillIntervalNotPositiveMessage)
	}

	return ServerConfig{
		ApplicationAddress:     loader.GetString(environmentKeyApplicationAddress),
		ServeMode:              serveMode,
		DatabaseDriverName:     strings.TrimSpace(loader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDataSourceName: strings.TrimSpace(loader.GetString(environmentKeyDatabaseDataSource)),
		CatalogFile:            strings.TrimSpace(loader.GetString(environmentKeyCatalogFile)),
		SessionSecret:          strings.TrimSpace(loader.GetString(environmentKeySessionSecret)),
		SessionSecureCookies:   loader.GetBool(environmentKeySessionSecureCookies),
		APIBaseURL:             strings.TrimSpace(loader.GetString(environmentKeyAPIBaseURL)),
		BackfillInterval:       backfillInterval,
	}, nil
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig, configErr := application.loadServerConfig()
	if configErr != nil {
		return configErr
	}

	if validationErr := ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	signalContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	var database *gorm.DB
	if serverConfig.ServeMode.servesAPI() {
		openedDatabase, prepareErr := application.prepareDatabase(signalContext, serverConfig, logger)
		if prepareErr != nil {
			return prepareErr
		}
		database = openedDatabase
	}

	components, buildErr := buildServerComponents(serverConfig, database, logger)
	if buildErr != nil {
		logger.Error(loggerContextServer, zap.Error(buildErr))
		return buildErr
	}

	return serve(signalContext, serverConfig, components, logger)
}

func (application *ServerApplication) prepareDatabase(ctx context.Context, serverConfig ServerConfig, logger *zap.Logger) (*gorm.DB, error) {
	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriverName,
		DataSourceName: serverConfig.DatabaseDataSourceName,
		Logger:         logger.Named(loggerNameDatabase),
	})
	if databaseErr != nil {
		logger.Error(loggerContextOpenDatabase, zap.Error(databaseErr))
		return nil, databaseErr
	}

	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Error(loggerContextAutoMigrate, zap.Error(migrateErr))
		return nil, migrateErr
	}

	catalog := storage.DefaultCatalog()
	catalogSource := catalogSourceDefault
	if serverConfig.CatalogFile != "" {
		loadedCatalog, catalogErr := storage.LoadCatalogFile(serverConfig.CatalogFile)
		if catalogErr != nil {
			logger.Error(loggerContextSeedCatalog, zap.Error(catalogErr))
			return nil, catalogErr
		}
		catalog = loadedCatalog
		catalogSource = serverConfig.CatalogFile
	}

	seededCount, seedErr := storage.SeedCatalog(ctx, database, catalog)
	if seedErr != nil {
		logger.Error(loggerContextSeedCatalog, zap.Error(seedErr))
		return nil, seedErr
	}
	if seededCount > 0 {
		logger.Info(logEventCatalogSeeded, zap.String(logFieldCatalogSource, catalogSource), zap.Int(logFieldCount, seededCount))
	}

	logger.Info(logEventDatabaseReady, zap.String(logFieldDatabaseDriver, serverConfig.DatabaseDriverName))
	return database, nil
}

func serve(ctx context.Context, serverConfig ServerConfig, components *serverComponents, logger *zap.Logger) error {
	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           components.router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	components.startSchedulers(ctx)

	serveGroup, groupContext := errgroup.WithContext(ctx)
	serveGroup.Go(func() error {
		logger.Info(logEventListening,
			zap.String(logFieldAddress, serverConfig.ApplicationAddress),
			zap.String(logFieldServeMode, string(serverConfig.ServeMode)),
		)
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})
	serveGroup.Go(func() error {
		<-groupContext.Done()
		logger.Info(logEventShutdown)
		components.close(logger)
		shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownContext)
		components.closeDatabase(logger)
		return shutdownErr
	})

	if waitErr := serveGroup.Wait(); waitErr != nil {
		logger.Error(loggerContextServer, zap.Error(waitErr))
		return waitErr
	}
	return nil
}

func ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.ServeMode.servesAPI() && configuration.DatabaseDataSourceName == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDataSourceName)
	}

	if configuration.ServeMode.servesDashboard() && configuration.SessionSecret == "" {
		missingParameters = append(missingParameters, flagNameSessionSecret)
	}

	if configuration.ServeMode == ServeModeWeb && configuration.APIBaseURL == "" {
		missingParameters = append(missingParameters, flagNameAPIBaseURL)
	}

	if len(missingParameters) > 0 {
		return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
	}

	if configuration.ServeMode.servesDashboard() && len(configuration.SessionSecret) < minimumSessionSecretLength {
		return fmt.Errorf("%s: %s", invalidConfigurationMessage, sessionSecretTooShortMessage)
	}

	return nil
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
