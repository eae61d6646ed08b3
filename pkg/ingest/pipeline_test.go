package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pagelens/pagelens/pkg/chunker"
	"github.com/pagelens/pagelens/pkg/detector"
	"github.com/pagelens/pagelens/pkg/geometry"
	"github.com/pagelens/pagelens/pkg/ocr"
	"github.com/pagelens/pagelens/pkg/render"
	"github.com/pagelens/pagelens/pkg/storage"
	"github.com/pagelens/pagelens/pkg/store"
	"github.com/pagelens/pagelens/pkg/vectorstore"
)

// fakeRenderer emits one small real PNG per requested page.
type fakeRenderer struct {
	pageCount int
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var pngOnce sync.Once
var pngBytes []byte

func (r *fakeRenderer) Render(ctx context.Context, pdf []byte, dpi int) ([]render.Page, error) {
	pages := make([]render.Page, r.pageCount)
	for i := range pages {
		pages[i] = render.Page{Number: i + 1, PNG: pngBytes, Width: 64, Height: 64}
	}
	return pages, nil
}

// fakeOCR returns "text for page" per image and records batch sizes.
type fakeOCR struct {
	fail       bool
	mu         sync.Mutex
	batchSizes []int
	calls      int
}

func (f *fakeOCR) AnnotateBatch(ctx context.Context, images [][]byte) ([]ocr.Result, error) {
	f.mu.Lock()
	f.batchSizes = append(f.batchSizes, len(images))
	f.calls++
	f.mu.Unlock()

	if f.fail {
		return nil, fmt.Errorf("vision api error 500: backend unavailable")
	}
	results := make([]ocr.Result, len(images))
	for i := range images {
		results[i] = ocr.Result{Text: "ocr text for a page of the document"}
	}
	return results, nil
}

// fakeDetector returns one region on every page, or an error.
type fakeDetector struct {
	fail        bool
	regionsPer  int
	mu          sync.Mutex
	pagesCalled int
}

func (f *fakeDetector) Detect(ctx context.Context, png []byte, width, height int) ([]detector.Region, error) {
	f.mu.Lock()
	f.pagesCalled++
	f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("detector unavailable")
	}
	var regions []detector.Region
	for i := 0; i < f.regionsPer; i++ {
		regions = append(regions, detector.Region{
			Label: "figure",
			Box:   geometry.Box{Y0: 4, X0: 4, Y1: 32, X1: 32},
		})
	}
	return regions, nil
}

// fakeEmbedder returns constant unit vectors.
type fakeEmbedder struct{}

func (fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}
func (fakeEmbedder) EmbedImage(ctx context.Context, png []byte) ([]float32, error) {
	return []float32{0, 1, 0, 0}, nil
}
func (fakeEmbedder) Dimension() int { return 4 }

type testEnv struct {
	pipeline *Pipeline
	content  *store.ContentStore
	vectors  *vectorstore.MemoryStore
	files    *storage.Storage
	ocr      *fakeOCR
	detector *fakeDetector
}

func newTestPipeline(t *testing.T, pageCount int, opts Options) *testEnv {
	t.Helper()
	pngOnce.Do(func() { pngBytes = testPNG(t) })

	dir := t.TempDir()
	content, err := store.OpenContent(filepath.Join(dir, "content.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { content.Close() })

	vectors := vectorstore.NewMemoryStore()
	files := storage.New(
		filepath.Join(dir, "pdfs"),
		filepath.Join(dir, "pages"),
		filepath.Join(dir, "crops"),
	)
	fOCR := &fakeOCR{}
	fDet := &fakeDetector{regionsPer: 1}

	p := New(
		&fakeRenderer{pageCount: pageCount},
		fOCR,
		fDet,
		fakeEmbedder{},
		chunker.New(512, 64),
		content,
		vectors,
		files,
		opts,
	)
	p.ocrBatchTimeout = 20 * time.Millisecond

	return &testEnv{pipeline: p, content: content, vectors: vectors, files: files, ocr: fOCR, detector: fDet}
}

func TestIngestEndToEnd(t *testing.T) {
	env := newTestPipeline(t, 3, Options{OCRBatchSize: 2})
	ctx := context.Background()

	result, err := env.pipeline.Ingest(ctx, "report.pdf", []byte("%PDF fake content"))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Skipped {
		t.Fatal("first ingest should not be skipped")
	}
	if result.Pages != 3 {
		t.Errorf("pages = %d", result.Pages)
	}
	if result.Chunks != 3 {
		t.Errorf("chunks = %d, want one per page", result.Chunks)
	}
	if result.Regions != 3 {
		t.Errorf("regions = %d, want one per page", result.Regions)
	}

	// Every chunk and region got a vector.
	if env.vectors.Len() != result.Chunks+result.Regions {
		t.Errorf("vector count = %d, want %d", env.vectors.Len(), result.Chunks+result.Regions)
	}

	// Chunk text is immediately findable through the FTS index.
	hits, err := env.content.SearchKeyword(ctx, "ocr text", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Error("ingested text not findable by keyword")
	}

	// Crops exist on disk at the recorded paths.
	regions, err := env.content.ListRegions(ctx, result.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range regions {
		if r.CropPath == "" || r.VectorID == "" {
			t.Errorf("region %d missing artifacts: %+v", r.ID, r)
		}
		if _, err := os.Stat(r.CropPath); err != nil {
			t.Errorf("crop file missing: %v", err)
		}
	}

	// Page images are persisted and recorded.
	page, err := env.content.GetPage(ctx, result.DocumentID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if page.ImagePath == "" {
		t.Error("page image path not recorded")
	}
	if _, err := os.Stat(page.ImagePath); err != nil {
		t.Errorf("page image missing: %v", err)
	}
}

func TestIngestDuplicateSkipped(t *testing.T) {
	env := newTestPipeline(t, 2, Options{})
	ctx := context.Background()

	first, err := env.pipeline.Ingest(ctx, "a.pdf", []byte("same bytes"))
	if err != nil {
		t.Fatal(err)
	}

	second, err := env.pipeline.Ingest(ctx, "b.pdf", []byte("same bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if !second.Skipped {
		t.Error("duplicate ingest should be skipped")
	}
	if second.DocumentID != first.DocumentID {
		t.Errorf("duplicate returned different id: %s vs %s", second.DocumentID, first.DocumentID)
	}

	docs, err := env.content.ListDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("expected 1 document, got %d", len(docs))
	}
}

func TestIngestEmptyUploadSkipped(t *testing.T) {
	env := newTestPipeline(t, 1, Options{})
	result, err := env.pipeline.Ingest(context.Background(), "empty.pdf", nil)
	if err != nil {
		t.Fatalf("empty upload errored: %v", err)
	}
	if !result.Skipped || result.DocumentID != "" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestOCRPartialBatchFlushed(t *testing.T) {
	// Batch size larger than the page count: the whole document is one
	// partial batch and must still be OCRed when the queue closes.
	env := newTestPipeline(t, 3, Options{OCRBatchSize: 12})
	ctx := context.Background()

	result, err := env.pipeline.Ingest(ctx, "short.pdf", []byte("short doc"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Chunks != 3 {
		t.Errorf("chunks = %d, want 3: partial OCR batch was dropped", result.Chunks)
	}
	for n := 1; n <= 3; n++ {
		page, err := env.content.GetPage(ctx, result.DocumentID, n)
		if err != nil {
			t.Fatal(err)
		}
		if page.OCRText == "" {
			t.Errorf("page %d has no ocr text", n)
		}
	}
}

func TestOCRBatchSizeOne(t *testing.T) {
	env := newTestPipeline(t, 4, Options{OCRBatchSize: 1})
	ctx := context.Background()

	if _, err := env.pipeline.Ingest(ctx, "d.pdf", []byte("four pages")); err != nil {
		t.Fatal(err)
	}

	env.ocr.mu.Lock()
	defer env.ocr.mu.Unlock()
	for _, size := range env.ocr.batchSizes {
		if size != 1 {
			t.Errorf("batch size %d with ocr_batch_size=1", size)
		}
	}
	if env.ocr.calls != 4 {
		t.Errorf("expected 4 ocr calls, got %d", env.ocr.calls)
	}
}

func TestOCRFailureKeepsRegions(t *testing.T) {
	env := newTestPipeline(t, 2, Options{})
	env.ocr.fail = true
	ctx := context.Background()

	result, err := env.pipeline.Ingest(ctx, "d.pdf", []byte("ocr down"))
	if err != nil {
		t.Fatalf("ingest should survive ocr failure: %v", err)
	}
	if result.Chunks != 0 {
		t.Errorf("chunks = %d, want 0", result.Chunks)
	}
	if result.Regions != 2 {
		t.Errorf("regions = %d, want 2", result.Regions)
	}
	for n := 1; n <= 2; n++ {
		page, err := env.content.GetPage(ctx, result.DocumentID, n)
		if err != nil {
			t.Fatal(err)
		}
		if page.OCRText != "" {
			t.Errorf("page %d text = %q, want empty", n, page.OCRText)
		}
	}
}

func TestChunkVectorIDUsesPageRowID(t *testing.T) {
	env := newTestPipeline(t, 2, Options{})
	ctx := context.Background()

	result, err := env.pipeline.Ingest(ctx, "ids.pdf", []byte("two pages"))
	if err != nil {
		t.Fatal(err)
	}

	ids, err := env.content.VectorIDs(ctx, result.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	for n := 1; n <= 2; n++ {
		page, err := env.content.GetPage(ctx, result.DocumentID, n)
		if err != nil {
			t.Fatal(err)
		}
		want := fmt.Sprintf("chunk_%s_%d_0", result.DocumentID, page.ID)
		found := false
		for _, id := range ids {
			if id == want {
				found = true
			}
		}
		if !found {
			t.Errorf("vector id %s missing from %v", want, ids)
		}
	}
}

func TestDetectorFailureKeepsText(t *testing.T) {
	env := newTestPipeline(t, 2, Options{})
	env.detector.fail = true
	ctx := context.Background()

	result, err := env.pipeline.Ingest(ctx, "d.pdf", []byte("detector down"))
	if err != nil {
		t.Fatalf("ingest should survive detector failure: %v", err)
	}
	if result.Regions != 0 {
		t.Errorf("regions = %d, want 0", result.Regions)
	}
	if result.Chunks != 2 {
		t.Errorf("chunks = %d, want 2", result.Chunks)
	}
}

func TestPageWithoutRegions(t *testing.T) {
	env := newTestPipeline(t, 1, Options{})
	env.detector.regionsPer = 0
	ctx := context.Background()

	result, err := env.pipeline.Ingest(ctx, "plain.pdf", []byte("no figures"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Regions != 0 {
		t.Errorf("regions = %d", result.Regions)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	env := newTestPipeline(t, 2, Options{})
	ctx := context.Background()

	result, err := env.pipeline.Ingest(ctx, "gone.pdf", []byte("to delete"))
	if err != nil {
		t.Fatal(err)
	}
	if env.vectors.Len() == 0 {
		t.Fatal("expected vectors before delete")
	}

	if err := env.pipeline.Delete(ctx, result.DocumentID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if env.vectors.Len() != 0 {
		t.Errorf("vectors remain after delete: %d", env.vectors.Len())
	}
	if docs, _ := env.content.ListDocuments(ctx); len(docs) != 0 {
		t.Errorf("documents remain after delete")
	}
}
