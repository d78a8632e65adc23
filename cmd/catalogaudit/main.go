package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/storage"
)

const (
	commandUseName          = "catalogaudit [catalog-file]"
	commandShortDescription = "Validate a product catalog seed file"
	defaultCatalogPath      = "catalog.yaml"
	catalogKeyProducts      = "products"
	entryKeySKU             = "sku"
	entryKeyName            = "name"
	auditOKMessage          = "catalog-audit OK"
	auditFailedMessage      = "catalog-audit failed"
)

var errAuditFailed = errors.New("catalog_audit_failed")

type auditResult struct {
	errors   []string
	warnings []string
}

func (result *auditResult) addError(message string, arguments ...any) {
	result.errors = append(result.errors, fmt.Sprintf(message, arguments...))
}

func (result *auditResult) addWarning(message string, arguments ...any) {
	result.warnings = append(result.warnings, fmt.Sprintf(message, arguments...))
}

func (result auditResult) ok() bool {
	return len(result.errors) == 0
}

// catalogEntryNode keeps the source line of each entry for reporting.
type catalogEntryNode struct {
	entry storage.CatalogEntry
	line  int
}

func newCommand() *cobra.Command {
	return &cobra.Command{
		Use:          commandUseName,
		Short:        commandShortDescription,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			catalogPath := defaultCatalogPath
			if len(arguments) == 1 {
				catalogPath = arguments[0]
			}
			if exitCode := runAuditCommand(catalogPath, command.OutOrStdout(), command.ErrOrStderr()); exitCode != 0 {
				return errAuditFailed
			}
			return nil
		},
	}
}

func main() {
	command := newCommand()
	command.SilenceErrors = true
	if executeErr := command.Execute(); executeErr != nil {
		os.Exit(1)
	}
}

func runAuditCommand(catalogPath string, stdout io.Writer, stderr io.Writer) int {
	result := runAudit(catalogPath)
	sort.Strings(result.errors)
	sort.Strings(result.warnings)

	for _, warning := range result.warnings {
		_, _ = fmt.Fprintf(stdout, "WARN: %s\n", warning)
	}
	for _, errorMessage := range result.errors {
		_, _ = fmt.Fprintf(stderr, "ERROR: %s\n", errorMessage)
	}
	if !result.ok() {
		_, _ = fmt.Fprintln(stderr, auditFailedMessage)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, auditOKMessage)
	return 0
}

func runAudit(catalogPath string) auditResult {
	var result auditResult

	contents, readErr := os.ReadFile(catalogPath)
	if readErr != nil {
		result.addError("read catalog file %s: %v", catalogPath, readErr)
		return result
	}

	var document yaml.Node
	if decodeErr := yaml.Unmarshal(contents, &document); decodeErr != nil {
		result.addError("parse catalog file %s: %v", catalogPath, decodeErr)
		return result
	}

	entries := collectEntries(catalogPath, &document, &result)
	if len(entries) == 0 {
		if result.ok() {
			result.addError("catalog file %s: no products defined", catalogPath)
		}
		return result
	}

	checkEntries(catalogPath, entries, &result)

	// The server seeds through storage.ParseCatalog; keep both views in agreement.
	if result.ok() {
		if _, parseErr := storage.ParseCatalog(contents); parseErr != nil {
			result.addError("catalog file %s: %v", catalogPath, parseErr)
		}
	}

	return result
}

func collectEntries(catalogPath string, document *yaml.Node, result *auditResult) []catalogEntryNode {
	if document.Kind != yaml.DocumentNode || len(document.Content) == 0 {
		return nil
	}
	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		result.addError("catalog file %s: line %d: expected a mapping with a %q key", catalogPath, root.Line, catalogKeyProducts)
		return nil
	}

	var productsNode *yaml.Node
	for index := 0; index+1 < len(root.Content); index += 2 {
		keyNode := root.Content[index]
		if keyNode.Value == catalogKeyProducts {
			productsNode = root.Content[index+1]
			continue
		}
		result.addWarning("catalog file %s: line %d: unknown top-level key %q", catalogPath, keyNode.Line, keyNode.Value)
	}
	if productsNode == nil {
		return nil
	}
	if productsNode.Kind != yaml.SequenceNode {
		result.addError("catalog file %s: line %d: %q must be a list", catalogPath, productsNode.Line, catalogKeyProducts)
		return nil
	}

	entries := make([]catalogEntryNode, 0, len(productsNode.Content))
	for _, entryNode := range productsNode.Content {
		if entryNode.Kind != yaml.MappingNode {
			result.addError("catalog file %s: line %d: product entry must be a mapping", catalogPath, entryNode.Line)
			continue
		}
		for index := 0; index+1 < len(entryNode.Content); index += 2 {
			keyNode := entryNode.Content[index]
			if keyNode.Value != entryKeySKU && keyNode.Value != entryKeyName {
				result.addWarning("catalog file %s: line %d: unknown product key %q", catalogPath, keyNode.Line, keyNode.Value)
			}
		}
		var entry storage.CatalogEntry
		if decodeErr := entryNode.Decode(&entry); decodeErr != nil {
			result.addError("catalog file %s: line %d: %v", catalogPath, entryNode.Line, decodeErr)
			continue
		}
		entries = append(entries, catalogEntryNode{entry: entry, line: entryNode.Line})
	}
	return entries
}

func checkEntries(catalogPath string, entries []catalogEntryNode, result *auditResult) {
	lineBySKU := make(map[string]int, len(entries))
	lineByName := make(map[string]int, len(entries))

	for _, node := range entries {
		product, productErr := model.NewProduct(node.entry.SKU, node.entry.Name)
		if productErr != nil {
			result.addError("catalog file %s: line %d: %v", catalogPath, node.line, describeProductError(productErr))
			continue
		}
		if product.SKU != node.entry.SKU {
			result.addWarning("catalog file %s: line %d: sku %q has surrounding whitespace", catalogPath, node.line, node.entry.SKU)
		}
		if product.SKU != strings.ToUpper(product.SKU) {
			result.addWarning("catalog file %s: line %d: sku %q is not upper case", catalogPath, node.line, product.SKU)
		}

		if firstLine, duplicate := lineBySKU[product.SKU]; duplicate {
			result.addError("catalog file %s: line %d: sku %s already defined on line %d", catalogPath, node.line, product.SKU, firstLine)
		} else {
			lineBySKU[product.SKU] = node.line
		}

		normalizedName := strings.ToLower(product.Name)
		if firstLine, duplicate := lineByName[normalizedName]; duplicate {
			result.addWarning("catalog file %s: line %d: name %q already used on line %d", catalogPath, node.line, product.Name, firstLine)
		} else {
			lineByName[normalizedName] = node.line
		}
	}
}

func describeProductError(productErr error) string {
	switch {
	case errors.Is(productErr, model.ErrInvalidProductSKU):
		return "sku is missing or too long"
	case errors.Is(productErr, model.ErrInvalidProductName):
		return "name is missing or too long"
	default:
		return productErr.Error()
	}
}
