package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pagelens/pagelens/pkg/chunker"
	"github.com/pagelens/pagelens/pkg/core"
	"github.com/pagelens/pagelens/pkg/detector"
	"github.com/pagelens/pagelens/pkg/embedder"
	"github.com/pagelens/pagelens/pkg/log"
	"github.com/pagelens/pagelens/pkg/ocr"
	"github.com/pagelens/pagelens/pkg/render"
	"github.com/pagelens/pagelens/pkg/storage"
	"github.com/pagelens/pagelens/pkg/store"
	"github.com/pagelens/pagelens/pkg/vectorstore"
)

// RegionDetector finds visual regions on a page raster.
type RegionDetector interface {
	Detect(ctx context.Context, png []byte, width, height int) ([]detector.Region, error)
}

// Options tune the pipeline's batching and concurrency.
type Options struct {
	DPI           int
	OCRBatchSize  int
	OCRQueueSize  int
	DetectWorkers int
}

// Result summarises one ingest.
type Result struct {
	DocumentID string `json:"document_id"`
	Pages      int    `json:"pages"`
	Chunks     int    `json:"chunks"`
	Regions    int    `json:"regions"`
	Skipped    bool   `json:"skipped"`
}

// Pipeline runs the full ingest: render, OCR and region detection in
// parallel, chunk, embed, persist. All database work happens in one
// transaction; the vector store sees ids only after it commits.
type Pipeline struct {
	renderer render.Renderer
	ocr      ocr.Client
	detector RegionDetector
	embedder embedder.Embedder
	chunker  *chunker.Chunker
	content  *store.ContentStore
	vectors  vectorstore.Store
	files    *storage.Storage
	opts     Options

	ocrBatchTimeout time.Duration
}

func New(
	renderer render.Renderer,
	ocrClient ocr.Client,
	regionDetector RegionDetector,
	emb embedder.Embedder,
	ch *chunker.Chunker,
	content *store.ContentStore,
	vectors vectorstore.Store,
	files *storage.Storage,
	opts Options,
) *Pipeline {
	if opts.DPI <= 0 {
		opts.DPI = 144
	}
	if opts.OCRBatchSize <= 0 {
		opts.OCRBatchSize = 12
	}
	if opts.OCRBatchSize > 16 {
		opts.OCRBatchSize = 16
	}
	if opts.OCRQueueSize <= 0 {
		opts.OCRQueueSize = 24
	}
	if opts.DetectWorkers <= 0 {
		opts.DetectWorkers = 5
	}
	return &Pipeline{
		renderer:        renderer,
		ocr:             ocrClient,
		detector:        regionDetector,
		embedder:        emb,
		chunker:         ch,
		content:         content,
		vectors:         vectors,
		files:           files,
		opts:            opts,
		ocrBatchTimeout: time.Second,
	}
}

// Ingest processes one PDF. Re-uploading identical bytes returns the
// existing document id with Skipped set; nothing is written twice.
func (p *Pipeline) Ingest(ctx context.Context, filename string, pdf []byte) (*Result, error) {
	if len(pdf) == 0 {
		return &Result{Skipped: true}, nil
	}

	sum := sha256.Sum256(pdf)
	hash := hex.EncodeToString(sum[:])

	existing, err := p.content.FindDocumentByHash(ctx, hash)
	if err == nil {
		log.Info("document already ingested", "document_id", existing.ID, "hash", hash)
		return &Result{DocumentID: existing.ID, Pages: existing.PageCount, Skipped: true}, nil
	}
	if !core.IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: hash lookup: %v", core.ErrIngestFailed, err)
	}

	pages, err := p.renderer.Render(ctx, pdf, p.opts.DPI)
	if err != nil {
		return nil, err
	}

	docID := uuid.New().String()
	pdfPath, err := p.files.SavePDF(docID, filename, pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIngestFailed, err)
	}

	// OCR batches and the detection pool run concurrently; both only
	// read page rasters and write into their own result slots.
	ocrResults := make([]ocr.Result, len(pages))
	regionResults := make([][]detector.Region, len(pages))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return p.runOCR(groupCtx, pages, ocrResults) })
	group.Go(func() error { return p.runDetection(groupCtx, pages, regionResults) })
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIngestFailed, err)
	}

	tx, err := p.content.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIngestFailed, err)
	}
	defer tx.Rollback()

	doc := &store.Document{
		ID:        docID,
		Filename:  storage.SafeName(filename),
		FileHash:  hash,
		FilePath:  pdfPath,
		PageCount: len(pages),
	}
	if err := p.content.InsertDocument(ctx, tx, doc); err != nil {
		return nil, fmt.Errorf("%w: insert document: %v", core.ErrIngestFailed, err)
	}

	var items []vectorstore.Item
	result := &Result{DocumentID: docID, Pages: len(pages)}

	for i, page := range pages {
		imagePath, err := p.files.SavePageImage(docID, page.Number, page.PNG)
		if err != nil {
			return nil, fmt.Errorf("%w: save page image: %v", core.ErrIngestFailed, err)
		}

		row := &store.Page{DocumentID: docID, PageNumber: page.Number, ImagePath: imagePath}
		if err := p.content.InsertPage(ctx, tx, row); err != nil {
			return nil, fmt.Errorf("%w: insert page: %v", core.ErrIngestFailed, err)
		}
		if err := p.content.UpdatePageOCR(ctx, tx, row.ID, ocrResults[i].Text, ocrResults[i].Metadata); err != nil {
			return nil, fmt.Errorf("%w: update ocr: %v", core.ErrIngestFailed, err)
		}

		chunkItems, n, err := p.persistChunks(ctx, tx, docID, row, ocrResults[i].Text)
		if err != nil {
			return nil, err
		}
		items = append(items, chunkItems...)
		result.Chunks += n

		regionItems, n, err := p.persistRegions(ctx, tx, docID, row, page, regionResults[i])
		if err != nil {
			return nil, err
		}
		items = append(items, regionItems...)
		result.Regions += n
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", core.ErrIngestFailed, err)
	}

	// Vector registration strictly follows the commit so the store
	// never points at rows that do not exist.
	if err := p.vectors.Upsert(ctx, items); err != nil {
		return nil, fmt.Errorf("%w: vector upsert after commit: %v", core.ErrIngestFailed, err)
	}

	log.Info("document ingested", "document_id", docID,
		"pages", result.Pages, "chunks", result.Chunks, "regions", result.Regions)
	return result, nil
}

// runOCR feeds page indices through a bounded queue and batches them
// for the OCR backend. The consumer always flushes the partial batch
// left when the queue closes. A failed batch leaves its pages with
// empty text; it never fails the ingest.
func (p *Pipeline) runOCR(ctx context.Context, pages []render.Page, results []ocr.Result) error {
	tasks := make(chan int, p.opts.OCRQueueSize)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(tasks)
		for i := range pages {
			select {
			case tasks <- i:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
		return nil
	})

	group.Go(func() error {
		batch := make([]int, 0, p.opts.OCRBatchSize)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			images := make([][]byte, len(batch))
			for j, idx := range batch {
				images[j] = pages[idx].PNG
			}
			batchResults, err := p.ocr.AnnotateBatch(groupCtx, images)
			if err != nil {
				log.Warn("ocr batch failed, pages keep empty text",
					"pages", len(batch), "error", err)
				batch = batch[:0]
				return nil
			}
			for j, idx := range batch {
				results[idx] = batchResults[j]
			}
			batch = batch[:0]
			return nil
		}

		for {
			select {
			case idx, ok := <-tasks:
				if !ok {
					return flush()
				}
				batch = append(batch, idx)
				if len(batch) >= p.opts.OCRBatchSize {
					if err := flush(); err != nil {
						return err
					}
				}
			case <-time.After(p.ocrBatchTimeout):
				if err := flush(); err != nil {
					return err
				}
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
	})

	return group.Wait()
}

// runDetection fans pages out to a fixed worker pool. A failed page
// logs and yields no regions; it never fails the ingest.
func (p *Pipeline) runDetection(ctx context.Context, pages []render.Page, results [][]detector.Region) error {
	tasks := make(chan int)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(tasks)
		for i := range pages {
			select {
			case tasks <- i:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
		return nil
	})

	for w := 0; w < p.opts.DetectWorkers; w++ {
		group.Go(func() error {
			for idx := range tasks {
				page := pages[idx]
				regions, err := p.detector.Detect(groupCtx, page.PNG, page.Width, page.Height)
				if err != nil {
					log.Warn("region detection failed, page keeps no regions",
						"page", page.Number, "error", err)
					continue
				}
				results[idx] = regions
			}
			return nil
		})
	}

	return group.Wait()
}

func (p *Pipeline) persistChunks(ctx context.Context, tx *sql.Tx, docID string, page *store.Page, text string) ([]vectorstore.Item, int, error) {
	chunks := p.chunker.Split(text)
	items := make([]vectorstore.Item, 0, len(chunks))

	for i, chunkText := range chunks {
		chunk := &store.TextChunk{
			PageID:     page.ID,
			DocumentID: docID,
			ChunkIndex: i,
			Text:       chunkText,
		}
		if err := p.content.InsertChunk(ctx, tx, chunk); err != nil {
			return nil, 0, fmt.Errorf("%w: insert chunk: %v", core.ErrIngestFailed, err)
		}

		vector, err := p.embedder.EmbedText(ctx, chunkText)
		if err != nil {
			return nil, 0, err
		}

		vectorID := fmt.Sprintf("chunk_%s_%d_%d", docID, page.ID, i)
		if err := p.content.SetChunkVectorID(ctx, tx, chunk.ID, vectorID); err != nil {
			return nil, 0, fmt.Errorf("%w: set chunk vector id: %v", core.ErrIngestFailed, err)
		}

		items = append(items, vectorstore.Item{
			ID:     vectorID,
			Vector: vector,
			Metadata: map[string]string{
				"document_id": docID,
				"page_id":     fmt.Sprintf("%d", page.ID),
				"type":        "text",
			},
		})
	}
	return items, len(items), nil
}

func (p *Pipeline) persistRegions(ctx context.Context, tx *sql.Tx, docID string, page *store.Page, raster render.Page, regions []detector.Region) ([]vectorstore.Item, int, error) {
	if len(regions) == 0 {
		return nil, 0, nil
	}

	img, err := imaging.Decode(bytes.NewReader(raster.PNG))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decode page raster: %v", core.ErrIngestFailed, err)
	}

	items := make([]vectorstore.Item, 0, len(regions))
	for _, region := range regions {
		row := &store.ImageRegion{
			PageID:     page.ID,
			DocumentID: docID,
			Label:      region.Label,
			Y0:         region.Box.Y0,
			X0:         region.Box.X0,
			Y1:         region.Box.Y1,
			X1:         region.Box.X1,
		}
		if err := p.content.InsertRegion(ctx, tx, row); err != nil {
			return nil, 0, fmt.Errorf("%w: insert region: %v", core.ErrIngestFailed, err)
		}

		crop := imaging.Crop(img, image.Rect(
			int(region.Box.X0), int(region.Box.Y0),
			int(region.Box.X1), int(region.Box.Y1)))
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, crop, imaging.PNG); err != nil {
			return nil, 0, fmt.Errorf("%w: encode crop: %v", core.ErrIngestFailed, err)
		}

		cropPath, err := p.files.SaveCrop(docID, row.ID, buf.Bytes())
		if err != nil {
			return nil, 0, fmt.Errorf("%w: save crop: %v", core.ErrIngestFailed, err)
		}

		vector, err := p.embedder.EmbedImage(ctx, buf.Bytes())
		if err != nil {
			return nil, 0, err
		}

		vectorID := fmt.Sprintf("region_%s_%d", docID, row.ID)
		if err := p.content.UpdateRegionArtifacts(ctx, tx, row.ID, cropPath, vectorID); err != nil {
			return nil, 0, fmt.Errorf("%w: update region: %v", core.ErrIngestFailed, err)
		}

		items = append(items, vectorstore.Item{
			ID:     vectorID,
			Vector: vector,
			Metadata: map[string]string{
				"document_id": docID,
				"page_id":     fmt.Sprintf("%d", page.ID),
				"region_id":   fmt.Sprintf("%d", row.ID),
				"type":        "image",
			},
		})
	}
	return items, len(items), nil
}

// Delete removes a document everywhere: vectors, rows, files.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	vectorIDs, err := p.content.VectorIDs(ctx, documentID)
	if err != nil {
		return err
	}
	if err := p.vectors.Delete(ctx, vectorIDs); err != nil {
		return err
	}
	if err := p.content.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	return p.files.DeleteDocument(documentID)
}
