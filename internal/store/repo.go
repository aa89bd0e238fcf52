package store

import (
	"context"
	"time"

	"github.com/abhisek/sheetsolver/internal/worksheet"
)

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit   int       // max results (0 = unlimited)
	After   int64     // id > After
	Before  int64     // id < Before
	From    time.Time // timestamp >= From
	To      time.Time // timestamp <= To
	Purpose string    // exact match when set
}

// LLMRequestEventData captures the data for a single LLM request event.
type LLMRequestEventData struct {
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// LLMRequestRecord is a stored LLM request event.
type LLMRequestRecord struct {
	ID        int64
	Timestamp time.Time
	LLMRequestEventData
}

// LLMUsage aggregates the request log per purpose and model.
type LLMUsage struct {
	Purpose      string
	Model        string
	Requests     int
	Failures     int
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
}

// EventRepo provides append access to the LLM request log.
type EventRepo interface {
	// AppendLLMRequest records an LLM API call event.
	AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error
}

// EventReader queries the LLM request log.
type EventReader interface {
	EventRepo
	QueryLLMEvents(ctx context.Context, opts QueryOpts) ([]LLMRequestRecord, error)
	GetLLMEvent(ctx context.Context, id int64) (*LLMRequestRecord, error)
	LLMUsageByPurpose(ctx context.Context) ([]LLMUsage, error)
}

// PersistStats reports what a Persist call changed.
type PersistStats struct {
	// Upserted counts rows that did not exist before.
	Upserted int `json:"upserted"`

	// Modified counts existing rows whose content changed.
	Modified int `json:"modified"`

	// Failed counts records whose write failed.
	Failed int `json:"failed"`
}

// StoredResult is a persisted result row.
type StoredResult struct {
	WorksheetID string
	LessonSlug  string
	Record      worksheet.ResultRecord
	Metadata    map[string]any
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
