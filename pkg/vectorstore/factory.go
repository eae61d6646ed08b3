package vectorstore

import (
	"strings"

	"github.com/pagelens/pagelens/pkg/config"
	"github.com/pagelens/pagelens/pkg/log"
)

// New builds the configured backend. An unreachable qdrant falls back
// to the in-memory store with a warning rather than refusing to start.
func New(cfg config.VectorStoreConfig, vectorSize int) Store {
	switch strings.ToLower(cfg.Backend) {
	case "qdrant":
		store, err := NewQdrantStore(QdrantOptions{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			VectorSize: vectorSize,
		})
		if err != nil {
			log.Warn("qdrant unavailable, falling back to in-memory vector store",
				"host", cfg.Qdrant.Host, "port", cfg.Qdrant.Port, "error", err)
			return NewMemoryStore()
		}
		return store
	default:
		return NewMemoryStore()
	}
}
