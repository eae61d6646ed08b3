package vectorstore

import "context"

// Item is one embedding keyed by the application-level vector id
// (for example chunk_<doc>_<page>_<n> or region_<doc>_<id>).
type Item struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Hit is one search result. Score is similarity in [0, 1], higher is
// closer.
type Hit struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Store is the pluggable vector backend. Implementations must treat
// Upsert with an existing id as a replace. A non-nil filter restricts
// Search to items whose metadata matches every key/value pair.
type Store interface {
	Upsert(ctx context.Context, items []Item) error
	Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]Hit, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
}
