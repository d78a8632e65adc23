package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/dashboard"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/httpapi"
)

const (
	commandUseName              = "snapshot"
	commandShortDescription     = "Render the feedback dashboard to a static HTML file"
	flagNameEnvFile             = "env-file"
	flagNameAPIBaseURL          = "api-base-url"
	flagNameProduct             = "product"
	flagNameInsights            = "insights"
	flagNameOutput              = "out"
	flagNameTimeout             = "timeout"
	flagUsageEnvFile            = "dotenv file read before flags are resolved"
	flagUsageAPIBaseURL         = "base URL of the feedback API"
	flagUsageProduct            = "SKU of the product to render; defaults to the first catalog product"
	flagUsageInsights           = "generate insights into the snapshot"
	flagUsageOutput             = "path of the HTML file to write"
	flagUsageTimeout            = "deadline for all API calls"
	environmentKeyAPIBaseURL    = "API_BASE_URL"
	defaultEnvFile              = ".env"
	defaultOutputPath           = "public/dashboard/index.html"
	defaultTimeout              = 30 * time.Second
	missingConfigurationMessage = "missing required configuration"
	logEventSnapshotWritten     = "snapshot_written"
	logFieldPath                = "path"
	logFieldProductSKU          = "sku"
	outputDirectoryPermissions  = 0o755
	outputFilePermissions       = 0o644
)

var errUnknownProductSKU = errors.New("snapshot: unknown product sku")

type snapshotOptions struct {
	APIBaseURL       string
	ProductSKU       string
	IncludeInsights  bool
	RenderedAt       time.Time
	ControllerLogger *zap.Logger
}

func newCommand(configurationLoader *viper.Viper) *cobra.Command {
	command := &cobra.Command{
		Use:          commandUseName,
		Short:        commandShortDescription,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}

	commandFlags := command.Flags()
	commandFlags.String(flagNameEnvFile, defaultEnvFile, flagUsageEnvFile)
	commandFlags.String(flagNameAPIBaseURL, "", flagUsageAPIBaseURL)
	commandFlags.String(flagNameProduct, "", flagUsageProduct)
	commandFlags.Bool(flagNameInsights, false, flagUsageInsights)
	commandFlags.String(flagNameOutput, defaultOutputPath, flagUsageOutput)
	commandFlags.Duration(flagNameTimeout, defaultTimeout, flagUsageTimeout)

	command.RunE = func(command *cobra.Command, arguments []string) error {
		envFile, _ := commandFlags.GetString(flagNameEnvFile)
		if loadErr := loadEnvironmentFile(envFile); loadErr != nil {
			return loadErr
		}
		configurationLoader.AutomaticEnv()
		if bindErr := configurationLoader.BindPFlag(environmentKeyAPIBaseURL, commandFlags.Lookup(flagNameAPIBaseURL)); bindErr != nil {
			return bindErr
		}

		apiBaseURL := strings.TrimSpace(configurationLoader.GetString(environmentKeyAPIBaseURL))
		if apiBaseURL == "" {
			return fmt.Errorf("%s: %s", missingConfigurationMessage, flagNameAPIBaseURL)
		}
		timeout, _ := commandFlags.GetDuration(flagNameTimeout)
		client, clientErr := dashboard.NewHTTPClient(apiBaseURL, &http.Client{Timeout: timeout})
		if clientErr != nil {
			return clientErr
		}

		logger, loggerErr := zap.NewProduction()
		if loggerErr != nil {
			return loggerErr
		}
		defer func() {
			_ = logger.Sync()
		}()

		productSKU, _ := commandFlags.GetString(flagNameProduct)
		includeInsights, _ := commandFlags.GetBool(flagNameInsights)
		outputPath, _ := commandFlags.GetString(flagNameOutput)

		ctx, cancel := context.WithTimeout(command.Context(), timeout)
		defer cancel()

		payload, renderErr := renderSnapshot(ctx, client, snapshotOptions{
			APIBaseURL:       apiBaseURL,
			ProductSKU:       strings.TrimSpace(productSKU),
			IncludeInsights:  includeInsights,
			RenderedAt:       time.Now(),
			ControllerLogger: logger,
		})
		if renderErr != nil {
			return renderErr
		}
		if writeErr := writeFile(outputPath, payload); writeErr != nil {
			return writeErr
		}
		logger.Info(logEventSnapshotWritten, zap.String(logFieldPath, outputPath), zap.String(logFieldProductSKU, productSKU))
		_, _ = fmt.Fprintln(command.OutOrStdout(), "dashboard snapshot written to", outputPath)
		return nil
	}

	return command
}

func loadEnvironmentFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if loadErr := godotenv.Load(path); loadErr != nil && !errors.Is(loadErr, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, loadErr)
	}
	return nil
}

// renderSnapshot drives a controller against client and renders the resulting page.
func renderSnapshot(ctx context.Context, client dashboard.Client, options snapshotOptions) ([]byte, error) {
	logger := options.ControllerLogger
	if logger == nil {
		logger = zap.NewNop()
	}
	renderedAt := options.RenderedAt
	if renderedAt.IsZero() {
		renderedAt = time.Now()
	}

	surface := dashboard.NewRecordingSurface(func() time.Time { return renderedAt })
	controller, controllerErr := dashboard.NewController(client, surface, dashboard.WithLogger(logger))
	if controllerErr != nil {
		return nil, controllerErr
	}
	if loadErr := controller.LoadProducts(ctx); loadErr != nil {
		return nil, loadErr
	}

	if options.ProductSKU != "" {
		productID, found := findProductID(controller.Products(), options.ProductSKU)
		if !found {
			return nil, fmt.Errorf("%w: %q", errUnknownProductSKU, options.ProductSKU)
		}
		if selectErr := controller.SelectProduct(ctx, productID); selectErr != nil {
			return nil, selectErr
		}
	}

	selectedProductID, hasSelection := controller.SelectedProductID()
	if options.IncludeInsights && hasSelection {
		if insightsErr := controller.GenerateInsights(ctx); insightsErr != nil {
			return nil, insightsErr
		}
	}

	page := httpapi.NewDashboardPage(options.APIBaseURL, surface.Snapshot(), selectedProductID, hasSelection, nil, renderedAt)
	var buffer bytes.Buffer
	if renderErr := httpapi.RenderDashboardPage(&buffer, page); renderErr != nil {
		return nil, renderErr
	}
	return bytes.ReplaceAll(buffer.Bytes(), []byte("\r\n"), []byte("\n")), nil
}

func findProductID(products []dashboard.Product, sku string) (uint, bool) {
	for _, product := range products {
		if strings.EqualFold(product.SKU, sku) {
			return product.ID, true
		}
	}
	return 0, false
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), outputDirectoryPermissions); err != nil {
		return err
	}
	return os.WriteFile(path, data, outputFilePermissions)
}

func main() {
	if executeErr := newCommand(viper.New()).Execute(); executeErr != nil {
		os.Exit(1)
	}
}
