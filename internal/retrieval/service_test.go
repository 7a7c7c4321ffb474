package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxmail/internal/embedding"
	"voxmail/internal/summarize"
	"voxmail/internal/vecstore"
)

type fakeVectors struct {
	matches    []vecstore.Match
	stats      *vecstore.Stats
	lastQuery  vecstore.QueryRequest
	lastFilter vecstore.Filter
	hasSparse  bool
}

func (f *fakeVectors) Query(_ context.Context, req vecstore.QueryRequest) ([]vecstore.Match, error) {
	f.lastQuery = req
	f.lastFilter = req.Filter
	if req.TopK < len(f.matches) {
		return f.matches[:req.TopK], nil
	}
	return f.matches, nil
}

func (f *fakeVectors) HybridQuery(_ context.Context, _ []float32, sparse *embedding.SparseVector, topK int, _ string, filter vecstore.Filter) ([]vecstore.Match, error) {
	f.lastFilter = filter
	if topK < len(f.matches) {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

func (f *fakeVectors) DescribeStats(_ context.Context, _ vecstore.Filter) (*vecstore.Stats, error) {
	return f.stats, nil
}

func (f *fakeVectors) HasSparse() bool { return f.hasSparse }

type fakeDense struct{}

func (fakeDense) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, embedding.Dimensions)
	}
	return out, nil
}

type fakeInvoker struct{ out string }

func (f fakeInvoker) Complete(_ context.Context, _ summarize.CompletionRequest) (string, error) {
	return f.out, nil
}

func messageMatch(id, from, subject string, date int64) vecstore.Match {
	return vecstore.Match{
		ID:    id,
		Score: 0.9,
		Metadata: map[string]any{
			"type": "message", "subject": subject, "from": from,
			"snippet": "snippet of " + id, "date": date, "thread_id": "t1",
		},
	}
}

func TestSearchDefaultsTypeFilter(t *testing.T) {
	fv := &fakeVectors{matches: []vecstore.Match{
		messageMatch("m1", "no-reply@accounts.google.com", "Security alert", 1700000000),
	}}
	s := &Service{Vectors: fv, Dense: fakeDense{}}

	resp, err := s.Search(context.Background(), SearchRequest{Queries: []Query{{Text: "security alert"}}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "Security alert", resp.Results[0].Title)
	assert.Equal(t, "no-reply@accounts.google.com", resp.Results[0].From)
	assert.Equal(t, map[string]any{"$eq": "message"}, fv.lastFilter["type"])
}

func TestSearchExplicitTypeFilterKept(t *testing.T) {
	fv := &fakeVectors{}
	s := &Service{Vectors: fv, Dense: fakeDense{}}

	_, err := s.Search(context.Background(), SearchRequest{
		Queries: []Query{{Text: "weekly summary"}},
		Filters: vecstore.Filter{"type": vecstore.Eq("thread_week"), "bucket": vecstore.Eq("2025-W43")},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"$eq": "thread_week"}, fv.lastFilter["type"])
}

func TestSearchTopKZero(t *testing.T) {
	fv := &fakeVectors{matches: []vecstore.Match{messageMatch("m1", "a@b.c", "s", 1)}}
	s := &Service{Vectors: fv, Dense: fakeDense{}}

	zero := 0
	resp, err := s.Search(context.Background(), SearchRequest{Queries: []Query{{Text: "x"}}, TopK: &zero})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.Total)
}

func TestSearchRequiresQueryText(t *testing.T) {
	s := &Service{Vectors: &fakeVectors{}, Dense: fakeDense{}}
	_, err := s.Search(context.Background(), SearchRequest{})
	assert.Error(t, err)
}

func TestAggregateGroupsByDomain(t *testing.T) {
	fv := &fakeVectors{matches: []vecstore.Match{
		messageMatch("m1", "a@streamlit.discoursemail.com", "s1", 1),
		messageMatch("m2", "b@streamlit.discoursemail.com", "s2", 2),
		messageMatch("m3", "c@streamlit.discoursemail.com", "s3", 3),
		messageMatch("m4", "d@streamlit.discoursemail.com", "s4", 4),
		messageMatch("m5", "e@linkedin.com", "s5", 5),
	}}
	s := &Service{Vectors: fv, Dense: fakeDense{}}

	resp, err := s.Aggregate(context.Background(), AggregateRequest{
		Metric:  "count",
		GroupBy: []string{"from_domain"},
		TopK:    100,
		Filters: vecstore.Filter{"unread": vecstore.Eq(true)},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Total)
	require.Len(t, resp.Groups, 2)
	assert.Equal(t, map[string]any{"from_domain": "streamlit.discoursemail.com"}, resp.Groups[0].Key)
	assert.Equal(t, 4, resp.Groups[0].Count)
	assert.Equal(t, map[string]any{"from_domain": "linkedin.com"}, resp.Groups[1].Key)
	assert.Equal(t, 1, resp.Groups[1].Count)

	sum := 0
	for _, g := range resp.Groups {
		sum += g.Count
	}
	assert.LessOrEqual(t, sum, resp.Total)
}

func TestAggregateCapsSample(t *testing.T) {
	fv := &fakeVectors{}
	s := &Service{Vectors: fv, Dense: fakeDense{}}
	_, err := s.Aggregate(context.Background(), AggregateRequest{TopK: 50000})
	require.NoError(t, err)
	assert.Equal(t, MaxAggregateTopK, fv.lastQuery.TopK)
}

func TestCountStatsFastPath(t *testing.T) {
	fv := &fakeVectors{stats: &vecstore.Stats{TotalVectorCount: 123, Namespaces: map[string]int64{"g1": 77}}}
	s := &Service{Vectors: fv, Dense: fakeDense{}}

	resp, err := s.Count(context.Background(), CountRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 123, resp.Total)

	resp, err = s.Count(context.Background(), CountRequest{Namespace: "g1"})
	require.NoError(t, err)
	assert.EqualValues(t, 77, resp.Total)
}

func TestCountFallsBackToSampling(t *testing.T) {
	fv := &fakeVectors{matches: []vecstore.Match{
		messageMatch("m1", "a@b.c", "s", 1), messageMatch("m2", "a@b.c", "s", 2),
	}}
	s := &Service{Vectors: fv, Dense: fakeDense{}}

	resp, err := s.Count(context.Background(), CountRequest{Filters: vecstore.Filter{"unread": vecstore.Eq(true)}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, resp.Total)
	assert.Equal(t, MaxSearchTopK, fv.lastQuery.TopK, "sampling probe uses the large cap")
}

func TestAnalyzeParsesSummary(t *testing.T) {
	fv := &fakeVectors{matches: []vecstore.Match{messageMatch("m1", "a@b.c", "s", 1)}}
	s := &Service{
		Vectors:     fv,
		Dense:       fakeDense{},
		Completions: fakeInvoker{out: `{"bullets":["b1"],"paragraph":"p","tags":["mail"]}`},
		Model:       "gpt-4o-mini",
	}

	resp, err := s.Analyze(context.Background(), AnalyzeRequest{Text: "what happened"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, []string{"b1"}, resp.Summary.Bullets)
	assert.Equal(t, "p", resp.Summary.Paragraph)
}

func TestAnalyzeNoMatches(t *testing.T) {
	s := &Service{Vectors: &fakeVectors{}, Dense: fakeDense{}, Completions: fakeInvoker{}}
	resp, err := s.Analyze(context.Background(), AnalyzeRequest{Text: "anything"})
	require.NoError(t, err)
	assert.Zero(t, resp.Count)
	assert.NotEmpty(t, resp.Summary.Paragraph)
}
