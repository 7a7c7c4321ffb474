package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SparseEmbedder calls a hosted sparse embedding endpoint. Callers treat
// failures as retryable; the status and body are preserved for diagnosis.
type SparseEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewSparseEmbedder builds a SparseEmbedder. httpClient may be nil.
func NewSparseEmbedder(baseURL, apiKey, model string, httpClient *http.Client) *SparseEmbedder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SparseEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    httpClient,
	}
}

type sparseReq struct {
	Model  string   `json:"model"`
	Inputs []string `json:"inputs"`
}

type sparseResp struct {
	Data []SparseVector `json:"data"`
}

// EmbedTexts returns one sparse vector per input, aligned by stable index.
// Empty inputs are filtered before the provider call and come back zero.
func (e *SparseEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]SparseVector, error) {
	kept, pos := filterEmpty(texts)
	if len(kept) == 0 {
		return make([]SparseVector, len(texts)), nil
	}

	sparse := make([]SparseVector, 0, len(kept))
	for start := 0; start < len(kept); start += maxBatch {
		end := start + maxBatch
		if end > len(kept) {
			end = len(kept)
		}
		batch, err := e.embedBatch(ctx, kept[start:end])
		if err != nil {
			return nil, err
		}
		sparse = append(sparse, batch...)
	}
	return AlignSparse(len(texts), pos, sparse), nil
}

func (e *SparseEmbedder) embedBatch(ctx context.Context, batch []string) ([]SparseVector, error) {
	reqBody, _ := json.Marshal(sparseReq{Model: e.model, Inputs: batch})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sparse embed request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("sparse embed error: %s: %s", resp.Status, string(body))
	}

	var sr sparseResp
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("sparse embed parse (inputs: %d): %w", len(batch), err)
	}
	if len(sr.Data) != len(batch) {
		return nil, fmt.Errorf("unexpected sparse embedding count: got %d, want %d", len(sr.Data), len(batch))
	}
	return sr.Data, nil
}
