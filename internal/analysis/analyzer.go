// Package analysis classifies feedback text and derives product insights.
package analysis

import (
	"regexp"
	"strings"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/model"
)

const (
	ThemeComfort    = "Comfort"
	ThemeDurability = "Durability"
	ThemeAppearance = "Appearance"
)

var (
	wordExpression = regexp.MustCompile(`\b[a-zA-Z']+\b`)

	positiveWords = newWordSet("shiny", "elegant", "premium", "beautiful", "comfortable")
	negativeWords = newWordSet("tarnish", "dull", "heavy", "broke", "uncomfortable")

	themeDefinitions = []themeDefinition{
		{name: ThemeComfort, keywords: newWordSet("light", "heavy", "fit", "wearable", "comfortable", "uncomfortable")},
		{name: ThemeDurability, keywords: newWordSet("broke", "strong", "quality", "fragile", "tarnish")},
		{name: ThemeAppearance, keywords: newWordSet("shiny", "dull", "design", "polish", "beautiful")},
	}
)

type wordSet map[string]struct{}

type themeDefinition struct {
	name     string
	keywords wordSet
}

func newWordSet(words ...string) wordSet {
	set := make(wordSet, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}

func (set wordSet) contains(word string) bool {
	_, found := set[word]
	return found
}

// Tokenize returns the lower-cased words of text in order of appearance.
func Tokenize(text string) []string {
	matches := wordExpression.FindAllString(text, -1)
	tokens := make([]string, 0, len(matches))
	for _, match := range matches {
		tokens = append(tokens, strings.ToLower(match))
	}
	return tokens
}

// Sentiment returns model.SentimentPositive unless negative keywords outnumber positive ones.
func Sentiment(text string) string {
	positiveCount := 0
	negativeCount := 0
	for _, token := range Tokenize(text) {
		if positiveWords.contains(token) {
			positiveCount++
		}
		if negativeWords.contains(token) {
			negativeCount++
		}
	}
	if positiveCount >= negativeCount {
		return model.SentimentPositive
	}
	return model.SentimentNegative
}

// Themes returns the themes mentioned in text, in ThemeNames order.
func Themes(text string) []string {
	tokens := Tokenize(text)
	var detected []string
	for _, definition := range themeDefinitions {
		for _, token := range tokens {
			if definition.keywords.contains(token) {
				detected = append(detected, definition.name)
				break
			}
		}
	}
	return detected
}

// ThemeNames lists every known theme in reporting order.
func ThemeNames() []string {
	names := make([]string, 0, len(themeDefinitions))
	for _, definition := range themeDefinitions {
		names = append(names, definition.name)
	}
	return names
}

// Classification is the result of analyzing a single feedback text.
type Classification struct {
	Sentiment string
	Themes    []string
}

// Classify runs sentiment and theme detection together.
func Classify(text string) Classification {
	return Classification{
		Sentiment: Sentiment(text),
		Themes:    Themes(text),
	}
}
