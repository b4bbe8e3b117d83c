package http

import (
	"github.com/kkzk/remindmine/internal/ledger"
	"github.com/kkzk/remindmine/internal/retrieval"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReindexResponse is the response body for POST /api/v1/reindex.
type ReindexResponse struct {
	ChunksAdded int  `json:"chunks_added"`
	Force       bool `json:"force"`
}

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	Query   string             `json:"query"`
	Results []retrieval.Result `json:"results"`
}

// CollectionInfo describes one vector store collection.
type CollectionInfo struct {
	Name   string            `json:"name"`
	Count  int               `json:"count"`
	Tags   map[string]string `json:"tags,omitempty"`
	Active bool              `json:"active"`
}

// CollectionsResponse is the response body for GET /api/v1/collections.
type CollectionsResponse struct {
	Collections []CollectionInfo `json:"collections"`
}

// AdviceListResponse is the response body for GET /api/v1/advice.
type AdviceListResponse struct {
	Count   int            `json:"count"`
	Pending []ledger.Entry `json:"pending"`
}

// ClearResponse is the response body for DELETE /api/v1/advice.
type ClearResponse struct {
	Cleared int `json:"cleared"`
}

// SummaryResponse is the response body for GET /api/v1/issues/:id/summary.
type SummaryResponse struct {
	IssueID      int    `json:"issue_id"`
	Summary      string `json:"summary"`
	HasJournals  bool   `json:"has_journals"`
	JournalCount int    `json:"journal_count"`
}

// SettingsResponse is the response body for the settings endpoints.
type SettingsResponse struct {
	AutoAdvice bool `json:"auto_advice_enabled"`
}

// AutoAdviceRequest is the request body for POST /api/v1/settings/auto-advice.
type AutoAdviceRequest struct {
	Enabled *bool `json:"enabled"`
}
