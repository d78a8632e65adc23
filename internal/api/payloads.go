package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/analysis"
)

var errInvalidRating = errors.New("invalid rating")

// ratingValue accepts a rating as a JSON number or a numeric string, as form fields submit it.
type ratingValue int

func (rating *ratingValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return errInvalidRating
		}
		trimmed = []byte(strings.TrimSpace(text))
	}
	parsed, parseErr := strconv.Atoi(string(trimmed))
	if parseErr != nil {
		return errInvalidRating
	}
	*rating = ratingValue(parsed)
	return nil
}

type createFeedbackRequest struct {
	ProductSKU string      `json:"product_sku"`
	Rating     ratingValue `json:"rating"`
	Text       string      `json:"text"`
}

type productResponse struct {
	ID   uint   `json:"id"`
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

type feedbackEntryResponse struct {
	Rating    int    `json:"rating"`
	Sentiment string `json:"sentiment"`
	Text      string `json:"text"`
}

type sentimentsResponse struct {
	Positive int64 `json:"positive"`
	Negative int64 `json:"negative"`
}

// orderedThemeCounts serializes as a JSON object whose keys keep reporting order.
type orderedThemeCounts []analysis.ThemeCount

func (themes orderedThemeCounts) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for themeIndex, theme := range themes {
		if themeIndex > 0 {
			buffer.WriteByte(',')
		}
		encodedName, encodeErr := json.Marshal(theme.Name)
		if encodeErr != nil {
			return nil, encodeErr
		}
		buffer.Write(encodedName)
		buffer.WriteByte(':')
		buffer.WriteString(strconv.FormatInt(theme.Count, 10))
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

type statsResponse struct {
	Sentiments sentimentsResponse `json:"sentiments"`
	Themes     orderedThemeCounts `json:"themes"`
}
