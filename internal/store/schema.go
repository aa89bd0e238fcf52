package store

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	resultsTableName     = "worksheet_results"
	llmRequestsTableName = "llm_requests"
)

var (
	// resultsColumns holds one row per (worksheet, problem). The unique key
	// on (worksheet_id, problem_index) is created separately at write time.
	resultsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "worksheet_id", Type: field.TypeString},
		{Name: "problem_index", Type: field.TypeInt},
		{Name: "page", Type: field.TypeInt},
		{Name: "lesson_slug", Type: field.TypeString, Default: ""},
		{Name: "record", Type: field.TypeString, Size: 1 << 20},
		{Name: "metadata", Type: field.TypeString, Size: 1 << 20, Nullable: true},
		{Name: "content_hash", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	resultsTable = &schema.Table{
		Name:       resultsTableName,
		Columns:    resultsColumns,
		PrimaryKey: []*schema.Column{resultsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "worksheet_results_worksheet_id", Columns: []*schema.Column{resultsColumns[1]}},
		},
	}

	llmRequestsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "timestamp", Type: field.TypeTime},
		{Name: "provider", Type: field.TypeString},
		{Name: "model", Type: field.TypeString},
		{Name: "purpose", Type: field.TypeString},
		{Name: "input_tokens", Type: field.TypeInt, Default: 0},
		{Name: "output_tokens", Type: field.TypeInt, Default: 0},
		{Name: "latency_ms", Type: field.TypeInt64, Default: 0},
		{Name: "success", Type: field.TypeBool},
		{Name: "error_message", Type: field.TypeString, Size: 1 << 16, Default: ""},
		{Name: "request_body", Type: field.TypeString, Size: 1 << 20, Default: ""},
		{Name: "response_body", Type: field.TypeString, Size: 1 << 20, Default: ""},
	}
	llmRequestsTable = &schema.Table{
		Name:       llmRequestsTableName,
		Columns:    llmRequestsColumns,
		PrimaryKey: []*schema.Column{llmRequestsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "llm_requests_purpose", Columns: []*schema.Column{llmRequestsColumns[4]}},
			{Name: "llm_requests_success", Columns: []*schema.Column{llmRequestsColumns[8]}},
		},
	}

	// Tables is every table the store manages.
	Tables = []*schema.Table{
		resultsTable,
		llmRequestsTable,
	}
)
