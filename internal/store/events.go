package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// eventRepo implements EventReader over the llm_requests table.
type eventRepo struct {
	store *Store
}

func (r *eventRepo) AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error {
	query, args := entsql.Dialect(r.store.dialect).
		Insert(llmRequestsTableName).
		Columns("timestamp", "provider", "model", "purpose", "input_tokens", "output_tokens",
			"latency_ms", "success", "error_message", "request_body", "response_body").
		Values(time.Now().UTC(), data.Provider, data.Model, data.Purpose, data.InputTokens, data.OutputTokens,
			data.LatencyMs, data.Success, data.ErrorMessage, data.RequestBody, data.ResponseBody).
		Query()

	if _, err := r.store.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save LLM request event: %w", err)
	}
	return nil
}

func (r *eventRepo) QueryLLMEvents(ctx context.Context, opts QueryOpts) ([]LLMRequestRecord, error) {
	var preds []*entsql.Predicate
	if opts.After > 0 {
		preds = append(preds, entsql.GT("id", opts.After))
	}
	if opts.Before > 0 {
		preds = append(preds, entsql.LT("id", opts.Before))
	}
	if !opts.From.IsZero() {
		preds = append(preds, entsql.GTE("timestamp", opts.From))
	}
	if !opts.To.IsZero() {
		preds = append(preds, entsql.LTE("timestamp", opts.To))
	}
	if opts.Purpose != "" {
		preds = append(preds, entsql.EQ("purpose", opts.Purpose))
	}

	sel := entsql.Dialect(r.store.dialect).
		Select("id", "timestamp", "provider", "model", "purpose", "input_tokens", "output_tokens",
			"latency_ms", "success", "error_message", "request_body", "response_body").
		From(entsql.Table(llmRequestsTableName)).
		OrderExpr(entsql.Expr("id DESC"))
	if len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	if opts.Limit > 0 {
		sel = sel.Limit(opts.Limit)
	}

	query, args := sel.Query()
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query LLM events: %w", err)
	}
	defer rows.Close()

	var records []LLMRequestRecord
	for rows.Next() {
		var e LLMRequestRecord
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Provider, &e.Model, &e.Purpose, &e.InputTokens, &e.OutputTokens,
			&e.LatencyMs, &e.Success, &e.ErrorMessage, &e.RequestBody, &e.ResponseBody); err != nil {
			return nil, fmt.Errorf("scan LLM event: %w", err)
		}
		records = append(records, e)
	}
	return records, rows.Err()
}

// GetLLMEvent returns the event with id, or nil when there is none.
func (r *eventRepo) GetLLMEvent(ctx context.Context, id int64) (*LLMRequestRecord, error) {
	events, err := r.QueryLLMEvents(ctx, QueryOpts{After: id - 1, Before: id + 1, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r *eventRepo) LLMUsageByPurpose(ctx context.Context) ([]LLMUsage, error) {
	query, args := entsql.Dialect(r.store.dialect).
		Select("purpose", "model", "success", "input_tokens", "output_tokens", "latency_ms").
		From(entsql.Table(llmRequestsTableName)).
		Query()

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query LLM usage: %w", err)
	}
	defer rows.Close()

	type key struct{ purpose, model string }
	byKey := make(map[key]*LLMUsage)
	for rows.Next() {
		var (
			k       key
			success bool
			in, out int
			latency int64
		)
		if err := rows.Scan(&k.purpose, &k.model, &success, &in, &out, &latency); err != nil {
			return nil, fmt.Errorf("scan LLM usage: %w", err)
		}
		u, ok := byKey[k]
		if !ok {
			u = &LLMUsage{Purpose: k.purpose, Model: k.model}
			byKey[k] = u
		}
		u.Requests++
		if !success {
			u.Failures++
		}
		u.InputTokens += in
		u.OutputTokens += out
		u.LatencyMs += latency
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	usage := make([]LLMUsage, 0, len(byKey))
	for _, u := range byKey {
		usage = append(usage, *u)
	}
	sort.Slice(usage, func(i, j int) bool {
		if usage[i].Purpose != usage[j].Purpose {
			return usage[i].Purpose < usage[j].Purpose
		}
		return usage[i].Model < usage[j].Model
	})
	return usage, nil
}
