// Package vecstore is the sole owner of all vector index operations: upsert,
// filtered query, hybrid dense+sparse retrieval, stats, and delete. The
// namespace on every call is the tenant's grant id.
package vecstore

import "voxmail/internal/embedding"

// Record type values. Every persisted record carries exactly one of these
// in metadata["type"]; message-scoped queries filter type=message by default.
const (
	TypeMessage     = "message"
	TypeThread      = "thread"
	TypeThreadDay   = "thread_day"
	TypeThreadWeek  = "thread_week"
	TypeThreadMonth = "thread_month"
)

// Record is one vector with its metadata, ready to upsert.
type Record struct {
	ID           string                  `json:"id"`
	Values       []float32               `json:"values,omitempty"`
	SparseValues *embedding.SparseVector `json:"sparseValues,omitempty"`
	Metadata     map[string]any          `json:"metadata,omitempty"`
}

// Match is one query hit. Source is set on hybrid retrieval and is one of
// "dense", "sparse", or "fused".
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Filter is the provider metadata filter language: equality plus
// $eq/$gte/$lte/$in over metadata scalars. Unknown operator values are
// passed through verbatim.
type Filter map[string]any

// Eq returns an equality condition.
func Eq(v any) map[string]any { return map[string]any{"$eq": v} }

// Gte returns a >= condition.
func Gte(v any) map[string]any { return map[string]any{"$gte": v} }

// Lte returns a <= condition.
func Lte(v any) map[string]any { return map[string]any{"$lte": v} }

// In returns a membership condition.
func In(vs ...any) map[string]any { return map[string]any{"$in": vs} }

// Range returns a bounded date/number window.
func Range(gte, lte any) map[string]any { return map[string]any{"$gte": gte, "$lte": lte} }

// WithDefaultType returns the filter with type=message injected when the
// caller did not constrain type.
func (f Filter) WithDefaultType() Filter {
	if f == nil {
		return Filter{"type": Eq(TypeMessage)}
	}
	if _, ok := f["type"]; ok {
		return f
	}
	out := make(Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out["type"] = Eq(TypeMessage)
	return out
}

// QueryRequest selects vectors from one namespace.
type QueryRequest struct {
	Vector          []float32
	SparseVector    *embedding.SparseVector
	TopK            int
	Namespace       string
	Filter          Filter
	IncludeMetadata bool
}

// Stats is the index statistic snapshot for a namespace (or the index).
type Stats struct {
	TotalVectorCount int64
	Namespaces       map[string]int64
}
