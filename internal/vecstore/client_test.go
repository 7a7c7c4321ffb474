package vecstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxmail/internal/embedding"
)

type fakeIndex struct {
	mu       sync.Mutex
	upserts  []upsertReq
	queries  []queryWire
	deletes  []deleteReq
	response func(path string) any
}

func (f *fakeIndex) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Key") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Path {
		case "/vectors/upsert":
			var req upsertReq
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.upserts = append(f.upserts, req)
			_, _ = w.Write([]byte(`{"upsertedCount":0}`))
		case "/query":
			var req queryWire
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.queries = append(f.queries, req)
			_ = json.NewEncoder(w).Encode(f.response(r.URL.Path))
		case "/describe_index_stats":
			_ = json.NewEncoder(w).Encode(f.response(r.URL.Path))
		case "/vectors/delete":
			var req deleteReq
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.deletes = append(f.deletes, req)
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestUpsertSplitsDenseAndSparse(t *testing.T) {
	dense := &fakeIndex{}
	sparse := &fakeIndex{}
	ds := dense.server(t)
	defer ds.Close()
	ss := sparse.server(t)
	defer ss.Close()

	c := New(ds.URL, ss.URL, "k", nil)
	records := []Record{
		{ID: "a#0", Values: []float32{1}, SparseValues: &embedding.SparseVector{Indices: []uint32{3}, Values: []float32{0.5}}, Metadata: map[string]any{"type": TypeMessage, "grant_id": "g1"}},
		{ID: "b#0", Values: []float32{2}, Metadata: map[string]any{"type": TypeMessage, "grant_id": "g1"}},
	}
	require.NoError(t, c.Upsert(context.Background(), records, "g1"))

	require.Len(t, dense.upserts, 1)
	assert.Equal(t, "g1", dense.upserts[0].Namespace)
	require.Len(t, dense.upserts[0].Vectors, 2)
	assert.Nil(t, dense.upserts[0].Vectors[0].SparseValues, "dense index receives no sparse values")

	require.Len(t, sparse.upserts, 1)
	require.Len(t, sparse.upserts[0].Vectors, 1, "only records with sparse values hit the sparse index")
	assert.Equal(t, "a#0", sparse.upserts[0].Vectors[0].ID)
	assert.Nil(t, sparse.upserts[0].Vectors[0].Values)
}

func TestHybridQueryFusesBothLegs(t *testing.T) {
	dense := &fakeIndex{response: func(string) any {
		return queryResp{Matches: []Match{{ID: "x", Metadata: map[string]any{"type": "message"}}, {ID: "y"}}}
	}}
	sparse := &fakeIndex{response: func(string) any {
		return queryResp{Matches: []Match{{ID: "y"}, {ID: "z"}}}
	}}
	ds := dense.server(t)
	defer ds.Close()
	ss := sparse.server(t)
	defer ss.Close()

	c := New(ds.URL, ss.URL, "k", nil)
	out, err := c.HybridQuery(context.Background(), []float32{1}, &embedding.SparseVector{Indices: []uint32{1}, Values: []float32{1}}, 10, "g1", Filter{"type": Eq("message")})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "y", out[0].ID, "id present in both lists wins")
	assert.Equal(t, "fused", out[0].Source)

	// Both legs carried the filter and namespace.
	assert.Len(t, dense.queries, 1)
	assert.Len(t, sparse.queries, 1)
	assert.Equal(t, "g1", dense.queries[0].Namespace)
	assert.NotNil(t, sparse.queries[0].SparseVector)
	assert.Nil(t, sparse.queries[0].Vector)
}

func TestHybridQueryDegradesToDense(t *testing.T) {
	dense := &fakeIndex{response: func(string) any {
		return queryResp{Matches: []Match{{ID: "only"}}}
	}}
	ds := dense.server(t)
	defer ds.Close()

	c := New(ds.URL, "", "k", nil)
	out, err := c.HybridQuery(context.Background(), []float32{1}, nil, 5, "g1", nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Source, "plain dense query carries no source annotation")
}

func TestQueryTopKZeroShortCircuits(t *testing.T) {
	c := New("http://unreachable.invalid", "", "k", nil)
	out, err := c.Query(context.Background(), QueryRequest{TopK: 0})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDescribeStats(t *testing.T) {
	dense := &fakeIndex{response: func(string) any {
		return statsResp{
			TotalVectorCount: 42,
			Namespaces: map[string]struct {
				VectorCount int64 `json:"vectorCount"`
			}{"g1": {VectorCount: 40}},
		}
	}}
	ds := dense.server(t)
	defer ds.Close()

	c := New(ds.URL, "", "k", nil)
	stats, err := c.DescribeStats(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 42, stats.TotalVectorCount)
	assert.EqualValues(t, 40, stats.Namespaces["g1"])
}

func TestDeleteByFilterPurgesBothIndexes(t *testing.T) {
	dense := &fakeIndex{}
	sparse := &fakeIndex{}
	ds := dense.server(t)
	defer ds.Close()
	ss := sparse.server(t)
	defer ss.Close()

	c := New(ds.URL, ss.URL, "k", nil)
	require.NoError(t, c.DeleteByFilter(context.Background(), "g1", nil))

	require.Len(t, dense.deletes, 1)
	assert.True(t, dense.deletes[0].DeleteAll)
	assert.Equal(t, "g1", dense.deletes[0].Namespace)
	require.Len(t, sparse.deletes, 1)
}

func TestErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "k", nil)
	_, err := c.Query(context.Background(), QueryRequest{Vector: []float32{1}, TopK: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}
