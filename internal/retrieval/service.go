// Package retrieval serves search, aggregation, count, and analyze requests
// over the vector index.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"voxmail/internal/embedding"
	"voxmail/internal/logging"
	"voxmail/internal/mail"
	"voxmail/internal/summarize"
	"voxmail/internal/vecstore"
)

// Caps on probe sizes.
const (
	MaxSearchTopK    = 10000
	MaxAggregateTopK = 1000
	defaultTopK      = 10
	analyzeTopK      = 20
)

// VectorQuerier is the slice of the vector store the service needs.
type VectorQuerier interface {
	Query(ctx context.Context, req vecstore.QueryRequest) ([]vecstore.Match, error)
	HybridQuery(ctx context.Context, dense []float32, sparse *embedding.SparseVector, topK int, namespace string, filter vecstore.Filter) ([]vecstore.Match, error)
	DescribeStats(ctx context.Context, filter vecstore.Filter) (*vecstore.Stats, error)
	HasSparse() bool
}

// DenseEmbedder embeds query text densely.
type DenseEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// SparseEmbedder embeds query text sparsely; nil when unconfigured.
type SparseEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([]embedding.SparseVector, error)
}

// Service answers retrieval requests for one deployment.
type Service struct {
	Vectors     VectorQuerier
	Dense       DenseEmbedder
	Sparse      SparseEmbedder
	Completions summarize.Invoker
	Model       string
}

// Query is one search query text.
type Query struct {
	Text string `json:"text"`
}

// SearchRequest selects messages (or rollups) by semantic similarity.
// TopK is a pointer so an explicit 0 (empty result set) is distinguishable
// from an absent field (default).
type SearchRequest struct {
	Queries   []Query         `json:"queries"`
	TopK      *int            `json:"top_k"`
	Filters   vecstore.Filter `json:"filters"`
	Namespace string          `json:"namespace"`
}

// SearchResult is one normalized hit.
type SearchResult struct {
	Type     string   `json:"type"`
	ID       string   `json:"id"`
	ThreadID string   `json:"thread_id,omitempty"`
	Title    string   `json:"title"`
	Snippet  string   `json:"snippet"`
	From     string   `json:"from,omitempty"`
	To       []string `json:"to,omitempty"`
	Date     int64    `json:"date"`
	Score    float64  `json:"score"`
	Source   string   `json:"source,omitempty"`
}

// SearchResponse carries hits plus the size of the probed candidate set.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// Search embeds the first query text and runs a (hybrid when available)
// filtered similarity query. The filter defaults to type=message.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if len(req.Queries) == 0 || strings.TrimSpace(req.Queries[0].Text) == "" {
		return nil, fmt.Errorf("queries[0].text is required")
	}
	topK := defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if topK > MaxSearchTopK {
		topK = MaxSearchTopK
	}
	if topK <= 0 {
		return &SearchResponse{Results: []SearchResult{}, Total: 0}, nil
	}

	matches, err := s.query(ctx, req.Queries[0].Text, topK, req.Namespace, req.Filters.WithDefaultType())
	if err != nil {
		return nil, err
	}
	resp := &SearchResponse{Results: make([]SearchResult, 0, len(matches)), Total: len(matches)}
	for _, m := range matches {
		resp.Results = append(resp.Results, normalizeMatch(m))
	}
	return resp, nil
}

func (s *Service) query(ctx context.Context, text string, topK int, namespace string, filter vecstore.Filter) ([]vecstore.Match, error) {
	dense, err := s.Dense.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	var sparse *embedding.SparseVector
	if s.Sparse != nil && s.Vectors.HasSparse() {
		sv, err := s.Sparse.EmbedTexts(ctx, []string{text})
		if err != nil {
			logging.Log.WithError(err).Warn("sparse query embed failed, falling back to dense")
		} else if len(sv) > 0 && len(sv[0].Indices) > 0 {
			sparse = &sv[0]
		}
	}
	return s.Vectors.HybridQuery(ctx, dense[0], sparse, topK, namespace, filter)
}

func normalizeMatch(m vecstore.Match) SearchResult {
	r := SearchResult{
		ID:    m.ID,
		Score: m.Score,
	}
	if m.Source != "" {
		r.Source = m.Source
	}
	md := m.Metadata
	r.Type = str(md["type"])
	r.ThreadID = str(md["thread_id"])
	r.Title = str(md["subject"])
	if r.Title == "" {
		r.Title = str(md["bucket"])
	}
	r.Snippet = str(md["snippet"])
	r.From = str(md["from"])
	r.To = strSlice(md["to"])
	r.Date = num(md["date"])
	return r
}

// AggregateRequest groups a filtered sample of messages.
type AggregateRequest struct {
	Metric  string          `json:"metric"`
	GroupBy []string        `json:"group_by"`
	Filters vecstore.Filter `json:"filters"`
	TopK    int             `json:"top_k"`
}

// Group is one aggregation bucket.
type Group struct {
	Key   map[string]any `json:"key"`
	Count int            `json:"count"`
}

// AggregateResponse carries the sampled total and per-key counts.
type AggregateResponse struct {
	Total  int     `json:"total"`
	Groups []Group `json:"groups"`
}

// Aggregate samples up to top_k matches under the filter with a neutral
// embedding and groups them by the requested keys. from_domain is
// synthesized from "from" when the records predate the derived field.
func (s *Service) Aggregate(ctx context.Context, req AggregateRequest) (*AggregateResponse, error) {
	if req.Metric != "" && req.Metric != "count" {
		return nil, fmt.Errorf("unsupported metric %q", req.Metric)
	}
	topK := req.TopK
	if topK <= 0 || topK > MaxAggregateTopK {
		topK = MaxAggregateTopK
	}

	matches, err := s.Vectors.Query(ctx, vecstore.QueryRequest{
		Vector:          neutralVector(),
		TopK:            topK,
		Filter:          req.Filters.WithDefaultType(),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}

	resp := &AggregateResponse{Total: len(matches)}
	if len(req.GroupBy) == 0 {
		return resp, nil
	}

	counts := make(map[string]*Group)
	var order []string
	for _, m := range matches {
		key := make(map[string]any, len(req.GroupBy))
		var parts []string
		skip := false
		for _, g := range req.GroupBy {
			v := groupValue(m.Metadata, g)
			if v == "" {
				skip = true
				break
			}
			key[g] = v
			parts = append(parts, g+"="+v)
		}
		if skip {
			continue
		}
		id := strings.Join(parts, "|")
		if grp, ok := counts[id]; ok {
			grp.Count++
		} else {
			counts[id] = &Group{Key: key, Count: 1}
			order = append(order, id)
		}
	}
	for _, id := range order {
		resp.Groups = append(resp.Groups, *counts[id])
	}
	sort.SliceStable(resp.Groups, func(i, j int) bool {
		return resp.Groups[i].Count > resp.Groups[j].Count
	})
	return resp, nil
}

func groupValue(md map[string]any, field string) string {
	if v := str(md[field]); v != "" {
		return v
	}
	if field == "from_domain" {
		return mail.DomainOf(str(md["from"]))
	}
	return ""
}

// CountRequest counts records under a filter.
type CountRequest struct {
	Filters   vecstore.Filter `json:"filters"`
	Namespace string          `json:"namespace"`
}

// CountResponse carries the total.
type CountResponse struct {
	Total int64 `json:"total"`
}

// Count prefers describe-stats when it answers exactly (no metadata filter);
// otherwise it falls back to a single large sampling query.
func (s *Service) Count(ctx context.Context, req CountRequest) (*CountResponse, error) {
	if len(req.Filters) == 0 {
		stats, err := s.Vectors.DescribeStats(ctx, nil)
		if err != nil {
			return nil, err
		}
		if req.Namespace != "" {
			return &CountResponse{Total: stats.Namespaces[req.Namespace]}, nil
		}
		return &CountResponse{Total: stats.TotalVectorCount}, nil
	}

	matches, err := s.Vectors.Query(ctx, vecstore.QueryRequest{
		Vector:          neutralVector(),
		TopK:            MaxSearchTopK,
		Namespace:       req.Namespace,
		Filter:          req.Filters.WithDefaultType(),
		IncludeMetadata: false,
	})
	if err != nil {
		return nil, err
	}
	return &CountResponse{Total: int64(len(matches))}, nil
}

// AnalyzeRequest retrieves and summarizes matching mail.
type AnalyzeRequest struct {
	Text      string          `json:"text"`
	Filters   vecstore.Filter `json:"filters"`
	TopK      int             `json:"top_k"`
	Namespace string          `json:"namespace"`
}

// AnalysisSummary is the compact summary shape.
type AnalysisSummary struct {
	Bullets   []string `json:"bullets"`
	Paragraph string   `json:"paragraph"`
	Tags      []string `json:"tags"`
}

// AnalyzeResponse carries the summary and how many results fed it.
type AnalyzeResponse struct {
	Summary AnalysisSummary `json:"summary"`
	Count   int             `json:"count"`
}

// Analyze retrieves top results for the text and asks the completion model
// for a compact summary.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("text is required")
	}
	topK := req.TopK
	if topK <= 0 || topK > MaxAggregateTopK {
		topK = analyzeTopK
	}
	matches, err := s.query(ctx, req.Text, topK, req.Namespace, req.Filters.WithDefaultType())
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &AnalyzeResponse{Summary: AnalysisSummary{Paragraph: "No matching mail found."}}, nil
	}

	var b strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] from=%s subject=%s snippet=%s\n", i+1, str(m.Metadata["from"]), str(m.Metadata["subject"]), str(m.Metadata["snippet"]))
	}
	raw, err := s.Completions.Complete(ctx, summarize.CompletionRequest{
		Model: s.Model,
		System: "Summarize these email search results for the question: " + req.Text + ". " +
			"Respond with strict JSON {\"bullets\":[...],\"paragraph\":\"...\",\"tags\":[...]}.",
		User:        b.String(),
		Temperature: 0.2,
		MaxTokens:   512,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze completion: %w", err)
	}

	var summary AnalysisSummary
	if err := json.Unmarshal([]byte(summarize.ExtractJSON(raw)), &summary); err != nil {
		summary = AnalysisSummary{Paragraph: strings.TrimSpace(raw)}
	}
	return &AnalyzeResponse{Summary: summary, Count: len(matches)}, nil
}

func neutralVector() []float32 {
	return make([]float32, embedding.Dimensions)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func strSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
