package pagelens

import (
	"context"
	"fmt"

	"github.com/pagelens/pagelens/pkg/agent"
	"github.com/pagelens/pagelens/pkg/chunker"
	"github.com/pagelens/pagelens/pkg/config"
	"github.com/pagelens/pagelens/pkg/detector"
	"github.com/pagelens/pagelens/pkg/embedder"
	"github.com/pagelens/pagelens/pkg/gemini"
	"github.com/pagelens/pagelens/pkg/ingest"
	"github.com/pagelens/pagelens/pkg/ocr"
	"github.com/pagelens/pagelens/pkg/render"
	"github.com/pagelens/pagelens/pkg/search"
	"github.com/pagelens/pagelens/pkg/storage"
	"github.com/pagelens/pagelens/pkg/store"
	"github.com/pagelens/pagelens/pkg/vectorstore"
)

// services wires the full stack for the serve and index commands.
type services struct {
	content  *store.ContentStore
	chat     *store.ChatStore
	vectors  vectorstore.Store
	files    *storage.Storage
	pipeline *ingest.Pipeline
	engine   *search.Engine
	agent    *agent.Agent
}

func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	content, err := store.OpenContent(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open content database: %w", err)
	}

	chat, err := store.OpenChat(cfg.ChatDBPath())
	if err != nil {
		content.Close()
		return nil, fmt.Errorf("failed to open chat database: %w", err)
	}

	llm, err := gemini.NewClient(cfg.GCP.APIKey)
	if err != nil {
		content.Close()
		chat.Close()
		return nil, err
	}

	emb, err := embedder.NewVertex(ctx, cfg.GCP.ProjectID, cfg.GCP.Location,
		cfg.GCP.CredentialsFile, cfg.Embedder.Model, cfg.Embedder.Dimension)
	if err != nil {
		content.Close()
		chat.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	vision, err := ocr.NewVision(ctx, cfg.GCP.CredentialsFile)
	if err != nil {
		content.Close()
		chat.Close()
		return nil, fmt.Errorf("failed to create ocr client: %w", err)
	}

	files := storage.New(cfg.PDFsDir(), cfg.PagesDir(), cfg.CropsDir())
	vectors := vectorstore.New(cfg.VectorStore, cfg.Embedder.Dimension)

	pipeline := ingest.New(
		render.NewMuPDF(),
		vision,
		detector.New(llm, cfg.Detector.Model, cfg.Detector.Temperature).
			WithInstructions(cfg.Detector.BoxInstructions, cfg.Detector.SpatialInstructions),
		emb,
		chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap),
		content,
		vectors,
		files,
		ingest.Options{
			DPI:           cfg.Render.DPI,
			OCRBatchSize:  cfg.OCR.BatchSize,
			OCRQueueSize:  cfg.OCR.MaxQueueSize,
			DetectWorkers: cfg.Detector.Workers,
		},
	)

	engine := search.NewEngine(content, vectors, emb, cfg.Search.TopK, cfg.Search.RRFK)

	ag := agent.New(llm, engine,
		agent.NewGroundedWebSearch(llm, cfg.Agent.WebSearchModel),
		chat,
		agent.Options{
			Model:        cfg.Agent.Model,
			MaxSteps:     cfg.Agent.MaxSteps,
			HistoryLimit: cfg.Agent.HistoryLimit,
			LocalTopK:    cfg.Search.TopK,
		})

	return &services{
		content:  content,
		chat:     chat,
		vectors:  vectors,
		files:    files,
		pipeline: pipeline,
		engine:   engine,
		agent:    ag,
	}, nil
}

func (s *services) Close() {
	s.vectors.Close()
	s.chat.Close()
	s.content.Close()
}
