package vecstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"voxmail/internal/embedding"
	"voxmail/internal/logging"
)

const upsertBatch = 100

// Client talks to the hosted vector index over REST. A second host may be
// configured for a paired sparse index; hybrid queries fan out to both.
type Client struct {
	denseHost  string
	sparseHost string
	apiKey     string
	http       *http.Client
}

// New builds a Client. sparseHost may be empty when no sparse index exists;
// hybrid queries then degrade to dense-only. httpClient may be nil.
func New(denseHost, sparseHost, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		denseHost:  strings.TrimRight(denseHost, "/"),
		sparseHost: strings.TrimRight(sparseHost, "/"),
		apiKey:     apiKey,
		http:       httpClient,
	}
}

// HasSparse reports whether a sparse index is configured.
func (c *Client) HasSparse() bool { return c.sparseHost != "" }

type upsertReq struct {
	Vectors   []Record `json:"vectors"`
	Namespace string   `json:"namespace"`
}

// Upsert writes records into the namespace, batching provider calls. Records
// carrying sparse values are mirrored to the sparse index when configured.
func (c *Client) Upsert(ctx context.Context, records []Record, namespace string) error {
	if len(records) == 0 {
		return nil
	}
	for start := 0; start < len(records); start += upsertBatch {
		end := start + upsertBatch
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		if err := c.post(ctx, c.denseHost, "/vectors/upsert", upsertReq{Vectors: stripSparse(batch), Namespace: namespace}, nil); err != nil {
			return fmt.Errorf("upsert %d dense vectors: %w", len(batch), err)
		}
		if c.HasSparse() {
			sparse := onlySparse(batch)
			if len(sparse) > 0 {
				if err := c.post(ctx, c.sparseHost, "/vectors/upsert", upsertReq{Vectors: sparse, Namespace: namespace}, nil); err != nil {
					return fmt.Errorf("upsert %d sparse vectors: %w", len(sparse), err)
				}
			}
		}
	}
	return nil
}

func stripSparse(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		r.SparseValues = nil
		out[i] = r
	}
	return out
}

func onlySparse(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if r.SparseValues == nil || len(r.SparseValues.Indices) == 0 {
			continue
		}
		r.Values = nil
		out = append(out, r)
	}
	return out
}

type queryWire struct {
	Vector          []float32               `json:"vector,omitempty"`
	SparseVector    *embedding.SparseVector `json:"sparseVector,omitempty"`
	TopK            int                     `json:"topK"`
	Namespace       string                  `json:"namespace,omitempty"`
	Filter          Filter                  `json:"filter,omitempty"`
	IncludeMetadata bool                    `json:"includeMetadata"`
}

type queryResp struct {
	Matches []Match `json:"matches"`
}

// Query runs a single-index similarity query.
func (c *Client) Query(ctx context.Context, req QueryRequest) ([]Match, error) {
	if req.TopK <= 0 {
		return nil, nil
	}
	host := c.denseHost
	if req.Vector == nil && req.SparseVector != nil {
		if !c.HasSparse() {
			return nil, fmt.Errorf("sparse query without a configured sparse index")
		}
		host = c.sparseHost
	}
	var out queryResp
	wire := queryWire{
		Vector:          req.Vector,
		SparseVector:    req.SparseVector,
		TopK:            req.TopK,
		Namespace:       req.Namespace,
		Filter:          req.Filter,
		IncludeMetadata: req.IncludeMetadata,
	}
	if err := c.post(ctx, host, "/query", wire, &out); err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	return out.Matches, nil
}

// HybridQuery fans out to the dense and sparse indexes concurrently and
// fuses the two ranked lists by reciprocal rank. Without a sparse index (or
// sparse vector) it degrades to a plain dense query.
func (c *Client) HybridQuery(ctx context.Context, dense []float32, sparse *embedding.SparseVector, topK int, namespace string, filter Filter) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	if !c.HasSparse() || sparse == nil || len(sparse.Indices) == 0 {
		return c.Query(ctx, QueryRequest{Vector: dense, TopK: topK, Namespace: namespace, Filter: filter, IncludeMetadata: true})
	}

	var denseMatches, sparseMatches []Match
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		denseMatches, err = c.Query(gctx, QueryRequest{Vector: dense, TopK: topK, Namespace: namespace, Filter: filter, IncludeMetadata: true})
		return err
	})
	g.Go(func() error {
		var err error
		sparseMatches, err = c.Query(gctx, QueryRequest{SparseVector: sparse, TopK: topK, Namespace: namespace, Filter: filter, IncludeMetadata: true})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	fused := FuseRRF(denseMatches, sparseMatches, topK)
	logging.Log.WithField("dense", len(denseMatches)).WithField("sparse", len(sparseMatches)).WithField("fused", len(fused)).Debug("hybrid query fused")
	return fused, nil
}

type statsReq struct {
	Filter Filter `json:"filter,omitempty"`
}

type statsResp struct {
	Namespaces map[string]struct {
		VectorCount int64 `json:"vectorCount"`
	} `json:"namespaces"`
	TotalVectorCount int64 `json:"totalVectorCount"`
}

// DescribeStats returns vector counts, optionally under a metadata filter.
// Whether filtered counts are exact is provider-dependent; callers that need
// exactness must fall back to a sampling query.
func (c *Client) DescribeStats(ctx context.Context, filter Filter) (*Stats, error) {
	var out statsResp
	if err := c.post(ctx, c.denseHost, "/describe_index_stats", statsReq{Filter: filter}, &out); err != nil {
		return nil, fmt.Errorf("describe stats: %w", err)
	}
	stats := &Stats{TotalVectorCount: out.TotalVectorCount, Namespaces: make(map[string]int64, len(out.Namespaces))}
	for ns, v := range out.Namespaces {
		stats.Namespaces[ns] = v.VectorCount
	}
	return stats, nil
}

type deleteReq struct {
	Namespace string `json:"namespace,omitempty"`
	Filter    Filter `json:"filter,omitempty"`
	DeleteAll bool   `json:"deleteAll,omitempty"`
}

// DeleteByFilter removes all vectors in the namespace matching the filter.
// A nil filter deletes the whole namespace. Both indexes are purged.
func (c *Client) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	req := deleteReq{Namespace: namespace, Filter: filter, DeleteAll: filter == nil}
	if err := c.post(ctx, c.denseHost, "/vectors/delete", req, nil); err != nil {
		return fmt.Errorf("delete dense vectors: %w", err)
	}
	if c.HasSparse() {
		if err := c.post(ctx, c.sparseHost, "/vectors/delete", req, nil); err != nil {
			return fmt.Errorf("delete sparse vectors: %w", err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, host, path string, in, out any) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+path, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vector api request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("vector api error: %s: %s", resp.Status, string(body))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("vector api parse response: %w", err)
		}
	}
	return nil
}
