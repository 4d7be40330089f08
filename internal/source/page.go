// Package source fetches and classifies single pages from the Source API.
package source

import (
	"encoding/json"
	"time"

	"eventsync/internal/syncerr"
)

// OutcomeKind classifies one fetch
type OutcomeKind int

const (
	Success OutcomeKind = iota
	RateLimited
	HardFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case HardFailure:
		return "hard_failure"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one fetch
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int

	// Success
	Page *Page

	// RateLimited
	RetryAfter time.Duration

	// HardFailure
	Message string
}

// Page is one fetch's worth of items plus pagination metadata
type Page struct {
	Items     []json.RawMessage
	HasMore   bool
	NextToken string
}

type pagination struct {
	HasMoreItems bool   `json:"has_more_items"`
	Continuation string `json:"continuation"`
}

// ParsePage validates a success body and extracts its items and pagination.
// Both the items array and the pagination object must be present.
func ParsePage(body []byte, itemsKey string) (*Page, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, syncerr.Wrap(err, syncerr.KindProtocol, "response is not a JSON object")
	}

	rawItems, ok := envelope[itemsKey]
	if !ok || isNull(rawItems) {
		return nil, syncerr.New(syncerr.KindProtocol, "response is missing %q", itemsKey)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawItems, &items); err != nil {
		return nil, syncerr.Wrap(err, syncerr.KindProtocol, "response field "+itemsKey+" is not an array")
	}

	rawPagination, ok := envelope["pagination"]
	if !ok || isNull(rawPagination) {
		return nil, syncerr.New(syncerr.KindProtocol, "response is missing pagination")
	}
	var p pagination
	if err := json.Unmarshal(rawPagination, &p); err != nil {
		return nil, syncerr.Wrap(err, syncerr.KindProtocol, "response pagination is malformed")
	}

	return &Page{
		Items:     items,
		HasMore:   p.HasMoreItems,
		NextToken: p.Continuation,
	}, nil
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
