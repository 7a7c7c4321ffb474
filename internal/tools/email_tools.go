package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"voxmail/internal/mail"
	"voxmail/internal/retrieval"
	"voxmail/internal/store"
	"voxmail/internal/summarize"
	"voxmail/internal/vecstore"
)

// RetrievalAPI is the retrieval surface the tools call.
type RetrievalAPI interface {
	Search(ctx context.Context, req retrieval.SearchRequest) (*retrieval.SearchResponse, error)
	Aggregate(ctx context.Context, req retrieval.AggregateRequest) (*retrieval.AggregateResponse, error)
	Count(ctx context.Context, req retrieval.CountRequest) (*retrieval.CountResponse, error)
	Analyze(ctx context.Context, req retrieval.AnalyzeRequest) (*retrieval.AnalyzeResponse, error)
}

// MailAPI is the mail adapter surface the tools call.
type MailAPI interface {
	ListMessagesPage(ctx context.Context, opt mail.ListMessagesOptions) (*mail.MessagePage, error)
	ListUnread(ctx context.Context, grantID string, limit int, receivedAfter int64) ([]mail.Message, error)
	ListContacts(ctx context.Context, grantID string, limit int) ([]mail.Contact, error)
	ListEvents(ctx context.Context, grantID string, limit int) ([]mail.Event, error)
}

// SyncAPI starts ingestion jobs.
type SyncAPI interface {
	EnqueueDelta(ctx context.Context, grantID string, max int) (*store.JobRecord, error)
	EnqueueBackfill(ctx context.Context, grantID string, months, max int) (*store.JobRecord, error)
}

// Triager ranks messages by urgency.
type Triager interface {
	Triage(ctx context.Context, msgs []mail.Message) (*summarize.Result, error)
}

// Bundle holds one tenant's tool dependencies.
type Bundle struct {
	GrantID   string
	Retrieval RetrievalAPI
	Mail      MailAPI
	Sync      SyncAPI
	Triage    Triager
}

// NewEmailRegistry registers every email tool for the bundle.
func NewEmailRegistry(b *Bundle) Registry {
	r := NewRegistry()
	r.Register(&searchTool{b})
	r.Register(&listUnreadTool{b})
	r.Register(&listRecentTool{b})
	r.Register(&triageTool{b})
	r.Register(&listContactsTool{b})
	r.Register(&listEventsTool{b})
	r.Register(&syncStartTool{b})
	r.Register(&backfillStartTool{b})
	r.Register(&aggregateTool{b})
	r.Register(&analyzeTool{b})
	r.Register(&countTool{b})
	return r
}

func schema(description string, props map[string]any) map[string]any {
	return map[string]any{
		"description": description,
		"parameters": map[string]any{
			"type":       "object",
			"properties": props,
		},
	}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func filterProp() map[string]any {
	return map[string]any{"type": "object", "description": "metadata filter: equality plus $eq/$gte/$lte/$in"}
}

// --- search_emails ---

type searchTool struct{ b *Bundle }

func (t *searchTool) Name() string { return "search_emails" }

func (t *searchTool) JSONSchema() map[string]any {
	return schema("Semantic search over the mailbox index.", map[string]any{
		"query":   strProp("natural language query"),
		"top_k":   intProp("max results, default 10"),
		"filters": filterProp(),
	})
}

func (t *searchTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.b.Retrieval == nil {
		return nil, fmt.Errorf("retrieval surface not configured")
	}

	var args struct {
		Query   string          `json:"query"`
		TopK    *int            `json:"top_k"`
		Filters vecstore.Filter `json:"filters"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid search_emails args: %w", err)
	}
	return t.b.Retrieval.Search(ctx, retrieval.SearchRequest{
		Queries:   []retrieval.Query{{Text: args.Query}},
		TopK:      args.TopK,
		Filters:   args.Filters,
		Namespace: t.b.GrantID,
	})
}

// --- list_unread_messages ---

type listUnreadTool struct{ b *Bundle }

func (t *listUnreadTool) Name() string { return "list_unread_messages" }

func (t *listUnreadTool) JSONSchema() map[string]any {
	return schema("List unread messages, newest first.", map[string]any{
		"limit": intProp("max messages, default 20"),
	})
}

func (t *listUnreadTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.b.Mail == nil {
		return nil, fmt.Errorf("mail adapter not configured")
	}

	var args struct {
		Limit int `json:"limit"`
	}
	_ = json.Unmarshal(raw, &args)
	if args.Limit <= 0 {
		args.Limit = 20
	}
	msgs, err := t.b.Mail.ListUnread(ctx, t.b.GrantID, args.Limit, 0)
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": briefMessages(msgs), "total": len(msgs)}, nil
}

// --- list_recent_emails ---

type listRecentTool struct{ b *Bundle }

func (t *listRecentTool) Name() string { return "list_recent_emails" }

func (t *listRecentTool) JSONSchema() map[string]any {
	return schema("List the most recent messages.", map[string]any{
		"limit": intProp("max messages, default 20"),
	})
}

func (t *listRecentTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.b.Mail == nil {
		return nil, fmt.Errorf("mail adapter not configured")
	}

	var args struct {
		Limit int `json:"limit"`
	}
	_ = json.Unmarshal(raw, &args)
	if args.Limit <= 0 {
		args.Limit = 20
	}
	page, err := t.b.Mail.ListMessagesPage(ctx, mail.ListMessagesOptions{GrantID: t.b.GrantID, Limit: args.Limit})
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": briefMessages(page.Messages), "total": len(page.Messages)}, nil
}

// --- triage_recent_emails ---

type triageTool struct{ b *Bundle }

func (t *triageTool) Name() string { return "triage_recent_emails" }

func (t *triageTool) JSONSchema() map[string]any {
	return schema("Rank the latest messages by urgency via map-reduce triage.", map[string]any{
		"limit": intProp("how many recent messages to consider, default 50"),
	})
}

func (t *triageTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.b.Mail == nil || t.b.Triage == nil {
		return nil, fmt.Errorf("triage pipeline not configured")
	}

	var args struct {
		Limit int `json:"limit"`
	}
	_ = json.Unmarshal(raw, &args)
	if args.Limit <= 0 {
		args.Limit = 50
	}
	page, err := t.b.Mail.ListMessagesPage(ctx, mail.ListMessagesOptions{GrantID: t.b.GrantID, Limit: args.Limit})
	if err != nil {
		return nil, err
	}
	res, err := t.b.Triage.Triage(ctx, page.Messages)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"map_reduce": map[string]any{
			"top_emails":        res.TopThree,
			"backup_candidates": res.BackupCandidates,
			"validation":        res.Validation,
		},
		"considered": len(page.Messages),
	}, nil
}

// --- list_contacts ---

type listContactsTool struct{ b *Bundle }

func (t *listContactsTool) Name() string { return "list_contacts" }

func (t *listContactsTool) JSONSchema() map[string]any {
	return schema("List the tenant's contacts.", map[string]any{
		"limit": intProp("max contacts, default 50"),
	})
}

func (t *listContactsTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.b.Mail == nil {
		return nil, fmt.Errorf("mail adapter not configured")
	}

	var args struct {
		Limit int `json:"limit"`
	}
	_ = json.Unmarshal(raw, &args)
	if args.Limit <= 0 {
		args.Limit = 50
	}
	contacts, err := t.b.Mail.ListContacts(ctx, t.b.GrantID, args.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"contacts": contacts, "total": len(contacts)}, nil
}

// --- list_events ---

type listEventsTool struct{ b *Bundle }

func (t *listEventsTool) Name() string { return "list_events" }

func (t *listEventsTool) JSONSchema() map[string]any {
	return schema("List upcoming calendar events.", map[string]any{
		"limit": intProp("max events, default 20"),
	})
}

func (t *listEventsTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.b.Mail == nil {
		return nil, fmt.Errorf("mail adapter not configured")
	}

	var args struct {
		Limit int `json:"limit"`
	}
	_ = json.Unmarshal(raw, &args)
	if args.Limit <= 0 {
		args.Limit = 20
	}
	events, err := t.b.Mail.ListEvents(ctx, t.b.GrantID, args.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"events": events, "total": len(events)}, nil
}

// --- sync_start ---

type syncStartTool struct{ b *Bundle }

func (t *syncStartTool) Name() string { return "sync_start" }

func (t *syncStartTool) JSONSchema() map[string]any {
	return schema("Start a delta sync from the tenant checkpoint.", map[string]any{
		"max": intProp("max messages to ingest"),
	})
}

func (t *syncStartTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.b.Sync == nil {
		return nil, fmt.Errorf("sync dispatcher not configured")
	}

	var args struct {
		Max int `json:"max"`
	}
	_ = json.Unmarshal(raw, &args)
	rec, err := t.b.Sync.EnqueueDelta(ctx, t.b.GrantID, args.Max)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return map[string]any{"ok": true, "duplicate": true}, nil
	}
	return map[string]any{"ok": true, "job_id": rec.JobID}, nil
}

// --- backfill_start ---

type backfillStartTool struct{ b *Bundle }

func (t *backfillStartTool) Name() string { return "backfill_start" }

func (t *backfillStartTool) JSONSchema() map[string]any {
	return schema("Start a historical backfill of the mailbox.", map[string]any{
		"months": intProp("how far back, in months"),
		"max":    intProp("max messages to ingest"),
	})
}

func (t *backfillStartTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.b.Sync == nil {
		return nil, fmt.Errorf("sync dispatcher not configured")
	}

	var args struct {
		Months int `json:"months"`
		Max    int `json:"max"`
	}
	_ = json.Unmarshal(raw, &args)
	rec, err := t.b.Sync.EnqueueBackfill(ctx, t.b.GrantID, args.Months, args.Max)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return map[string]any{"ok": true, "duplicate": true}, nil
	}
	return map[string]any{"ok": true, "job_id": rec.JobID, "since": rec.SinceEpoch}, nil
}

// --- aggregate_emails ---

type aggregateTool struct{ b *Bundle }

func (t *aggregateTool) Name() string { return "aggregate_emails" }

func (t *aggregateTool) JSONSchema() map[string]any {
	return schema("Group and count messages by metadata keys.", map[string]any{
		"group_by": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"filters":  filterProp(),
		"top_k":    intProp("sample size, max 1000"),
	})
}

func (t *aggregateTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.b.Retrieval == nil {
		return nil, fmt.Errorf("retrieval surface not configured")
	}

	var args struct {
		GroupBy []string        `json:"group_by"`
		Filters vecstore.Filter `json:"filters"`
		TopK    int             `json:"top_k"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid aggregate_emails args: %w", err)
	}
	return t.b.Retrieval.Aggregate(ctx, retrieval.AggregateRequest{
		Metric:  "count",
		GroupBy: args.GroupBy,
		Filters: args.Filters,
		TopK:    args.TopK,
	})
}

// --- analyze_emails ---

type analyzeTool struct{ b *Bundle }

func (t *analyzeTool) Name() string { return "analyze_emails" }

func (t *analyzeTool) JSONSchema() map[string]any {
	return schema("Retrieve matching mail and summarize it.", map[string]any{
		"text":    strProp("what to analyze"),
		"filters": filterProp(),
		"top_k":   intProp("how many results to feed the summary"),
	})
}

func (t *analyzeTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.b.Retrieval == nil {
		return nil, fmt.Errorf("retrieval surface not configured")
	}

	var args struct {
		Text    string          `json:"text"`
		Filters vecstore.Filter `json:"filters"`
		TopK    int             `json:"top_k"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid analyze_emails args: %w", err)
	}
	return t.b.Retrieval.Analyze(ctx, retrieval.AnalyzeRequest{
		Text:      args.Text,
		Filters:   args.Filters,
		TopK:      args.TopK,
		Namespace: t.b.GrantID,
	})
}

// --- count_emails ---

type countTool struct{ b *Bundle }

func (t *countTool) Name() string { return "count_emails" }

func (t *countTool) JSONSchema() map[string]any {
	return schema("Count messages matching a filter.", map[string]any{
		"filters": filterProp(),
	})
}

func (t *countTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.b.Retrieval == nil {
		return nil, fmt.Errorf("retrieval surface not configured")
	}

	var args struct {
		Filters vecstore.Filter `json:"filters"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid count_emails args: %w", err)
	}
	return t.b.Retrieval.Count(ctx, retrieval.CountRequest{Filters: args.Filters, Namespace: t.b.GrantID})
}

type briefMessage struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    int64  `json:"date"`
	Unread  bool   `json:"unread"`
	Snippet string `json:"snippet"`
}

func briefMessages(msgs []mail.Message) []briefMessage {
	out := make([]briefMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, briefMessage{
			ID: m.ID, From: m.From.Display(), Subject: m.Subject,
			Date: m.Date, Unread: m.Unread, Snippet: m.Snippet,
		})
	}
	return out
}
