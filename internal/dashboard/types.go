// Package dashboard drives the product feedback dashboard: it fetches the
// catalog, per-product statistics, feedback entries, and insights from the
// feedback API and renders them through a Surface.
package dashboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedStats indicates a stats payload without sentiments or themes.
	ErrMalformedStats = errors.New("dashboard: malformed stats payload")
)

// Product identifies a catalog item. ID keys every per-product request; SKU keys submissions.
type Product struct {
	ID   uint   `json:"id"`
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

// FeedbackSubmission is sent verbatim from the form fields.
type FeedbackSubmission struct {
	ProductSKU string `json:"product_sku"`
	Rating     string `json:"rating"`
	Text       string `json:"text"`
}

// FeedbackEntry is one stored feedback record.
type FeedbackEntry struct {
	Rating    int    `json:"rating"`
	Sentiment string `json:"sentiment"`
	Text      string `json:"text"`
}

// SentimentCounts holds the positive/negative split for a product.
type SentimentCounts struct {
	Positive int64 `json:"positive"`
	Negative int64 `json:"negative"`
}

// ThemeCount is the number of mentions of one theme.
type ThemeCount struct {
	Name  string
	Count int64
}

// ThemeCounts decodes a JSON object into theme counts, keeping key order.
// A repeated key keeps its first position and takes the last value, as encoding/json does for maps.
type ThemeCounts []ThemeCount

func (themes *ThemeCounts) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	openingToken, tokenErr := decoder.Token()
	if tokenErr != nil {
		return tokenErr
	}
	if delimiter, isDelimiter := openingToken.(json.Delim); !isDelimiter || delimiter != '{' {
		return fmt.Errorf("%w: themes must be an object", ErrMalformedStats)
	}

	decoded := ThemeCounts{}
	positions := make(map[string]int)
	for decoder.More() {
		keyToken, keyErr := decoder.Token()
		if keyErr != nil {
			return keyErr
		}
		themeName, isString := keyToken.(string)
		if !isString {
			return fmt.Errorf("%w: theme name", ErrMalformedStats)
		}
		var mentionCount json.Number
		if valueErr := decoder.Decode(&mentionCount); valueErr != nil {
			return fmt.Errorf("%w: theme %q: %v", ErrMalformedStats, themeName, valueErr)
		}
		parsedCount, parseErr := mentionCount.Int64()
		if parseErr != nil {
			return fmt.Errorf("%w: theme %q: %v", ErrMalformedStats, themeName, parseErr)
		}
		if position, seen := positions[themeName]; seen {
			decoded[position].Count = parsedCount
			continue
		}
		positions[themeName] = len(decoded)
		decoded = append(decoded, ThemeCount{Name: themeName, Count: parsedCount})
	}
	if _, closingErr := decoder.Token(); closingErr != nil {
		return closingErr
	}

	*themes = decoded
	return nil
}

// Names returns the theme names in order.
func (themes ThemeCounts) Names() []string {
	names := make([]string, 0, len(themes))
	for _, theme := range themes {
		names = append(names, theme.Name)
	}
	return names
}

// Counts returns the mention counts in order.
func (themes ThemeCounts) Counts() []int64 {
	counts := make([]int64, 0, len(themes))
	for _, theme := range themes {
		counts = append(counts, theme.Count)
	}
	return counts
}

// StatsSummary is the aggregate view for one product.
type StatsSummary struct {
	Sentiments SentimentCounts
	Themes     ThemeCounts
}

func (summary *StatsSummary) UnmarshalJSON(data []byte) error {
	var payload struct {
		Sentiments *SentimentCounts `json:"sentiments"`
		Themes     *ThemeCounts     `json:"themes"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	if payload.Sentiments == nil {
		return fmt.Errorf("%w: missing sentiments", ErrMalformedStats)
	}
	if payload.Themes == nil {
		return fmt.Errorf("%w: missing themes", ErrMalformedStats)
	}
	summary.Sentiments = *payload.Sentiments
	summary.Themes = *payload.Themes
	return nil
}
