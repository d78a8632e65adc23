package main

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidServeMode = errors.New("invalid serve mode")

// ServeMode selects which surfaces the process exposes.
type ServeMode string

const (
	// ServeModeMonolith serves the JSON API and the dashboard page from one process.
	ServeModeMonolith ServeMode = "monolith"
	// ServeModeWeb serves only the dashboard page against a remote API.
	ServeModeWeb ServeMode = "web"
	// ServeModeAPI serves only the JSON API.
	ServeModeAPI ServeMode = "api"
)

func ParseServeMode(rawInput string) (ServeMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if normalized == "" {
		return ServeModeMonolith, nil
	}

	mode := ServeMode(normalized)
	switch mode {
	case ServeModeMonolith, ServeModeWeb, ServeModeAPI:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidServeMode, rawInput)
	}
}

func (mode ServeMode) servesAPI() bool {
	return mode == ServeModeMonolith || mode == ServeModeAPI
}

func (mode ServeMode) servesDashboard() bool {
	return mode == ServeModeMonolith || mode == ServeModeWeb
}
