package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"voxmail/internal/logging"
	"voxmail/internal/mail"
)

// Config enumerates the summarizer's behavior knobs.
type Config struct {
	Model         string
	MapChunk      int // items per map chunk
	BodyChars     int // body excerpt length per item
	MaxCandidates int // cap on candidates entering reduce
	HintSenders   []string
	HintDomains   []string
	HintKeywords  []string
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MapChunk <= 0 {
		c.MapChunk = 8
	}
	if c.BodyChars <= 0 {
		c.BodyChars = 600
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 24
	}
	return c
}

// Candidate is one map-stage output item.
type Candidate struct {
	MessageID     string   `json:"message_id,omitempty"`
	PriorityLevel string   `json:"priority_level"`
	Confidence    float64  `json:"confidence"`
	Reason        string   `json:"reason"`
	Signals       []string `json:"signals,omitempty"`
}

// Validation carries the reduce-stage bookkeeping.
type Validation struct {
	Total            int      `json:"total"`
	ChunksConsidered int      `json:"chunks_considered"`
	MapFailures      int      `json:"map_failures"`
	Notes            []string `json:"notes,omitempty"`
}

// Result is the final rollup of a map-reduce run.
type Result struct {
	TopThree         []Candidate `json:"top_three"`
	BackupCandidates []Candidate `json:"backup_candidates"`
	Validation       Validation  `json:"validation"`
}

// Engine runs two-stage map-reduce triage and rollup summaries.
type Engine struct {
	invoker Invoker
	cfg     Config
}

// NewEngine builds an Engine; cfg fields left zero take defaults.
func NewEngine(invoker Invoker, cfg Config) *Engine {
	return &Engine{invoker: invoker, cfg: cfg.withDefaults()}
}

type mapResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Triage ranks the given messages by urgency: the map stage scores fixed
// chunks, the reduce stage merges surviving candidates. Map failures are
// recorded and do not abort the reduce.
func (e *Engine) Triage(ctx context.Context, msgs []mail.Message) (*Result, error) {
	chunks := chunkMessages(msgs, e.cfg.MapChunk)

	var candidates []Candidate
	failures := 0
	var notes []string
	for i, chunk := range chunks {
		got, err := e.mapChunk(ctx, chunk)
		if err != nil {
			failures++
			notes = append(notes, fmt.Sprintf("map chunk %d failed: %v", i, err))
			logging.Log.WithField("chunk", i).WithError(err).Warn("triage map chunk failed")
			continue
		}
		candidates = append(candidates, got...)
	}

	result := e.reduce(candidates)
	result.Validation.Total = len(msgs)
	result.Validation.ChunksConsidered = len(chunks)
	result.Validation.MapFailures = failures
	result.Validation.Notes = notes
	return result, nil
}

func chunkMessages(msgs []mail.Message, size int) [][]mail.Message {
	var out [][]mail.Message
	for start := 0; start < len(msgs); start += size {
		end := start + size
		if end > len(msgs) {
			end = len(msgs)
		}
		out = append(out, msgs[start:end])
	}
	return out
}

func (e *Engine) mapChunk(ctx context.Context, chunk []mail.Message) ([]Candidate, error) {
	var b strings.Builder
	for _, m := range chunk {
		excerpt := m.BodyText
		if runes := []rune(excerpt); len(runes) > e.cfg.BodyChars {
			excerpt = string(runes[:e.cfg.BodyChars])
		}
		fmt.Fprintf(&b, "message_id: %s\nfrom: %s\nsubject: %s\ndate: %d\nunread: %t\nbody: %s\n---\n",
			m.ID, m.From.Display(), m.Subject, m.Date, m.Unread, excerpt)
	}

	system := "You are an email triage analyst. Score each message's urgency. " +
		"Respond with strict JSON: {\"candidates\":[{\"message_id\",\"priority_level\",\"confidence\",\"reason\",\"signals\"}]}. " +
		"priority_level is one of critical, high, medium, low. confidence is 0..1."
	if hints := e.hintText(); hints != "" {
		system += " Treat these as elevated-priority signals: " + hints + "."
	}

	raw, err := e.invoker.Complete(ctx, CompletionRequest{
		Model:       e.cfg.Model,
		System:      system,
		User:        b.String(),
		Temperature: 0,
		MaxTokens:   1024,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	var resp mapResponse
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("map response parse: %w", err)
	}
	return resp.Candidates, nil
}

func (e *Engine) hintText() string {
	var parts []string
	if len(e.cfg.HintSenders) > 0 {
		parts = append(parts, "senders "+strings.Join(e.cfg.HintSenders, ", "))
	}
	if len(e.cfg.HintDomains) > 0 {
		parts = append(parts, "domains "+strings.Join(e.cfg.HintDomains, ", "))
	}
	if len(e.cfg.HintKeywords) > 0 {
		parts = append(parts, "keywords "+strings.Join(e.cfg.HintKeywords, ", "))
	}
	return strings.Join(parts, "; ")
}

// reduce dedupes candidates by message id, ranks by max confidence then
// occurrence count, caps at MaxCandidates, and splits top three from backups.
func (e *Engine) reduce(candidates []Candidate) *Result {
	type agg struct {
		best  Candidate
		count int
		order int
	}
	byID := make(map[string]*agg)
	orderCounter := 0
	for _, c := range candidates {
		if c.MessageID == "" {
			continue
		}
		a, ok := byID[c.MessageID]
		if !ok {
			byID[c.MessageID] = &agg{best: c, count: 1, order: orderCounter}
			orderCounter++
			continue
		}
		a.count++
		if c.Confidence > a.best.Confidence {
			a.best = c
		}
	}

	merged := make([]*agg, 0, len(byID))
	for _, a := range byID {
		merged = append(merged, a)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].best.Confidence != merged[j].best.Confidence {
			return merged[i].best.Confidence > merged[j].best.Confidence
		}
		if merged[i].count != merged[j].count {
			return merged[i].count > merged[j].count
		}
		return merged[i].order < merged[j].order
	})
	if len(merged) > e.cfg.MaxCandidates {
		merged = merged[:e.cfg.MaxCandidates]
	}

	result := &Result{}
	for i, a := range merged {
		if i < 3 {
			result.TopThree = append(result.TopThree, a.best)
		} else {
			result.BackupCandidates = append(result.BackupCandidates, a.best)
		}
	}
	return result
}

// RollupText produces the rollup summary for a set of source texts at the
// given scope (thread, thread_day, thread_week, thread_month).
func (e *Engine) RollupText(ctx context.Context, scope, label string, texts []string) (string, error) {
	if len(texts) == 0 {
		return "", nil
	}
	var b strings.Builder
	for i, t := range texts {
		if runes := []rune(t); len(runes) > e.cfg.BodyChars {
			t = string(runes[:e.cfg.BodyChars])
		}
		fmt.Fprintf(&b, "[%d] %s\n", i+1, t)
	}
	system := fmt.Sprintf("Summarize the following email activity for scope %q (%s) in 3-5 sentences. "+
		"Mention senders, decisions, and open actions. Plain text only.", scope, label)
	return e.invoker.Complete(ctx, CompletionRequest{
		Model:       e.cfg.Model,
		System:      system,
		User:        b.String(),
		Temperature: 0.2,
		MaxTokens:   512,
	})
}
