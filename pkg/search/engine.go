package search

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pagelens/pagelens/pkg/core"
	"github.com/pagelens/pagelens/pkg/embedder"
	"github.com/pagelens/pagelens/pkg/store"
	"github.com/pagelens/pagelens/pkg/vectorstore"
)

// Mode selects which retrieval paths run.
type Mode string

const (
	ModeHybrid   Mode = "hybrid"
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
)

// ParseMode validates a mode string, defaulting empty to hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeHybrid:
		return ModeHybrid, nil
	case ModeKeyword:
		return ModeKeyword, nil
	case ModeSemantic:
		return ModeSemantic, nil
	default:
		return "", fmt.Errorf("%w: unknown search mode %q", core.ErrInvalidInput, s)
	}
}

// Result is one search hit, resolved back to its content row. Snippet
// holds the leading text of a chunk, or the label of a region.
type Result struct {
	VectorID      string  `json:"vector_id"`
	Type          string  `json:"result_type"`
	Score         float64 `json:"score"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	PageID        int64   `json:"page_id"`
	PageNumber    int     `json:"page_num"`
	ChunkID       int64   `json:"chunk_id,omitempty"`
	RegionID      int64   `json:"region_id,omitempty"`
	Snippet       string  `json:"snippet"`
	CropPath      string  `json:"crop_path,omitempty"`
}

const snippetLen = 500

func snippet(row *store.ResolvedResult) string {
	if row.Type == "image" {
		return row.Label
	}
	runes := []rune(row.Text)
	if len(runes) <= snippetLen {
		return row.Text
	}
	return string(runes[:snippetLen])
}

// Engine runs keyword and semantic retrieval and fuses them.
type Engine struct {
	content  *store.ContentStore
	vectors  vectorstore.Store
	embedder embedder.Embedder
	topK     int
	rrfK     int
}

func NewEngine(content *store.ContentStore, vectors vectorstore.Store, emb embedder.Embedder, topK, rrfK int) *Engine {
	if topK <= 0 {
		topK = 10
	}
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	return &Engine{content: content, vectors: vectors, embedder: emb, topK: topK, rrfK: rrfK}
}

// Search retrieves the topK best hits for the query. An empty query
// returns no results and no error.
func (e *Engine) Search(ctx context.Context, query string, mode Mode, topK int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Result{}, nil
	}
	if topK <= 0 {
		topK = e.topK
	}

	var keywordHits []store.KeywordHit
	var semanticIDs []string
	var semanticScores map[string]float64

	group, groupCtx := errgroup.WithContext(ctx)

	if mode == ModeHybrid || mode == ModeKeyword {
		group.Go(func() error {
			hits, err := e.content.SearchKeyword(groupCtx, query, topK)
			if err != nil {
				return fmt.Errorf("keyword search: %w", err)
			}
			keywordHits = hits
			return nil
		})
	}

	if mode == ModeHybrid || mode == ModeSemantic {
		group.Go(func() error {
			vector, err := e.embedder.EmbedText(groupCtx, query)
			if err != nil {
				return fmt.Errorf("query embedding: %w", err)
			}
			hits, err := e.vectors.Search(groupCtx, vector, topK, nil)
			if err != nil {
				return fmt.Errorf("vector search: %w", err)
			}
			semanticIDs = make([]string, 0, len(hits))
			semanticScores = make(map[string]float64, len(hits))
			for _, h := range hits {
				semanticIDs = append(semanticIDs, h.ID)
				semanticScores[h.ID] = h.Score
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSearchFailed, err)
	}

	var ranked []scoredID
	switch mode {
	case ModeKeyword:
		// Keyword-only results keep the native rank score.
		for _, h := range keywordHits {
			ranked = append(ranked, scoredID{ID: h.VectorID, Score: h.Score})
		}
	case ModeSemantic:
		for _, id := range semanticIDs {
			ranked = append(ranked, scoredID{ID: id, Score: semanticScores[id]})
		}
	default:
		keywordIDs := make([]string, 0, len(keywordHits))
		for _, h := range keywordHits {
			keywordIDs = append(keywordIDs, h.VectorID)
		}
		ranked = fuseWithRRF(e.rrfK, keywordIDs, semanticIDs)
	}

	return e.resolve(ctx, ranked, topK)
}

// resolve maps ranked vector ids to content in one batched lookup.
// Ids that no longer resolve are dropped without disturbing the order
// of the rest.
func (e *Engine) resolve(ctx context.Context, ranked []scoredID, topK int) ([]Result, error) {
	ids := make([]string, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.ID)
	}

	resolved, err := e.content.ResolveVectorIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve: %v", core.ErrSearchFailed, err)
	}

	results := make([]Result, 0, topK)
	for _, r := range ranked {
		row, ok := resolved[r.ID]
		if !ok {
			continue
		}
		results = append(results, Result{
			VectorID:      r.ID,
			Type:          row.Type,
			Score:         r.Score,
			DocumentID:    row.DocumentID,
			DocumentTitle: row.DocumentTitle,
			PageID:        row.PageID,
			PageNumber:    row.PageNumber,
			ChunkID:       row.ChunkID,
			RegionID:      row.RegionID,
			Snippet:       snippet(row),
			CropPath:      row.CropPath,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}
