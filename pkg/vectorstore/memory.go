package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore keeps vectors in process. It is the default backend and
// the fallback when qdrant is unreachable; contents do not survive a
// restart.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

type memoryItem struct {
	vector   []float32 // unit length
	metadata map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem)}
}

func (s *MemoryStore) Upsert(ctx context.Context, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.items[item.ID] = memoryItem{
			vector:   normalize(item.Vector),
			metadata: item.Metadata,
		}
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]Hit, error) {
	query := normalize(vector)

	s.mu.RLock()
	hits := make([]Hit, 0, len(s.items))
	for id, item := range s.items {
		if len(item.vector) != len(query) {
			continue
		}
		if !matchesFilter(item.metadata, filter) {
			continue
		}
		score := dot(query, item.vector)
		if score < 0 {
			score = 0
		}
		hits = append(hits, Hit{ID: id, Score: score, Metadata: item.metadata})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.items, id)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored vectors.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
