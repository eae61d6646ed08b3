package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/pagelens/pagelens/pkg/agent"
	"github.com/pagelens/pagelens/pkg/config"
	"github.com/pagelens/pagelens/pkg/core"
	"github.com/pagelens/pagelens/pkg/ingest"
	"github.com/pagelens/pagelens/pkg/search"
	"github.com/pagelens/pagelens/pkg/storage"
	"github.com/pagelens/pagelens/pkg/store"
)

type fakeIngestor struct {
	result  *ingest.Result
	deleted []string
}

func (f *fakeIngestor) Ingest(ctx context.Context, filename string, pdf []byte) (*ingest.Result, error) {
	return f.result, nil
}

func (f *fakeIngestor) Delete(ctx context.Context, documentID string) error {
	if documentID == "missing" {
		return core.ErrNotFound
	}
	f.deleted = append(f.deleted, documentID)
	return nil
}

type fakeSearcher struct {
	results []search.Result
	mode    search.Mode
}

func (f *fakeSearcher) Search(ctx context.Context, query string, mode search.Mode, topK int) ([]search.Result, error) {
	f.mode = mode
	return f.results, nil
}

type fakeAgent struct{}

func (f *fakeAgent) Chat(ctx context.Context, req agent.Request) (*agent.Reply, error) {
	if req.SessionID == "missing" {
		return nil, core.ErrNotFound
	}
	return &agent.Reply{
		SessionID: req.SessionID,
		Text:      "answer to: " + req.Message,
		Sources:   []agent.Source{},
	}, nil
}

type testEnv struct {
	server   *Server
	content  *store.ContentStore
	chat     *store.ChatStore
	files    *storage.Storage
	ingestor *fakeIngestor
	searcher *fakeSearcher
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	content, err := store.OpenContent(filepath.Join(dir, "content.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { content.Close() })

	chat, err := store.OpenChat(filepath.Join(dir, "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { chat.Close() })

	files := storage.New(
		filepath.Join(dir, "pdfs"),
		filepath.Join(dir, "pages"),
		filepath.Join(dir, "crops"))

	env := &testEnv{
		content:  content,
		chat:     chat,
		files:    files,
		ingestor: &fakeIngestor{result: &ingest.Result{DocumentID: "doc1", Pages: 2, Chunks: 4}},
		searcher: &fakeSearcher{},
	}
	env.server = NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, Services{
		Ingestor: env.ingestor,
		Search:   env.searcher,
		Agent:    &fakeAgent{},
		Content:  content,
		Chat:     chat,
		Files:    files,
	})
	return env
}

func (e *testEnv) request(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body %q: %v", w.Body.String(), err)
	}
	return body
}

// seedDocument inserts a document with one page and one region directly
// through the store.
func seedDocument(t *testing.T, env *testEnv, docID string) int64 {
	t.Helper()
	ctx := context.Background()

	tx, err := env.content.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	doc := &store.Document{ID: docID, Filename: docID + ".pdf", FileHash: "hash-" + docID, FilePath: "/x", PageCount: 1}
	if err := env.content.InsertDocument(ctx, tx, doc); err != nil {
		t.Fatal(err)
	}

	imagePath, err := env.files.SavePageImage(docID, 1, []byte("png-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	page := &store.Page{DocumentID: docID, PageNumber: 1, ImagePath: imagePath}
	if err := env.content.InsertPage(ctx, tx, page); err != nil {
		t.Fatal(err)
	}

	region := &store.ImageRegion{PageID: page.ID, DocumentID: docID, Label: "chart", Y0: 0, X0: 0, Y1: 10, X1: 10}
	if err := env.content.InsertRegion(ctx, tx, region); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return region.ID
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)
	w := env.request(t, "GET", "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func multipartFile(t *testing.T, filename string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	mw.Close()
	return buf.Bytes(), mw.FormDataContentType()
}

func TestIngestEndpoint(t *testing.T) {
	env := newTestServer(t)
	body, contentType := multipartFile(t, "report.pdf", []byte("%PDF-1.4 fake"))

	w := env.request(t, "POST", "/ingest/pdf", body, contentType)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	if resp["document_id"] != "doc1" || resp["status"] != "indexed" {
		t.Errorf("response = %v", resp)
	}
}

func TestIngestRejectsNonPDF(t *testing.T) {
	env := newTestServer(t)
	body, contentType := multipartFile(t, "notes.txt", []byte("plain text"))

	w := env.request(t, "POST", "/ingest/pdf", body, contentType)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestIngestDuplicateReturnsSkippedDetail(t *testing.T) {
	env := newTestServer(t)
	env.ingestor.result = &ingest.Result{DocumentID: "doc1", Skipped: true}
	body, contentType := multipartFile(t, "report.pdf", []byte("%PDF-1.4 fake"))

	w := env.request(t, "POST", "/ingest/pdf", body, contentType)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeJSON(t, w)
	if resp["detail"] != "Skipped (duplicate or empty)" {
		t.Errorf("detail = %v", resp["detail"])
	}
}

func TestIngestMissingFile(t *testing.T) {
	env := newTestServer(t)
	w := env.request(t, "POST", "/ingest/pdf", nil, "application/json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.searcher.results = []search.Result{{VectorID: "chunk_d_1_0", Type: "text", Snippet: "hit"}}

	w := env.request(t, "GET", "/search?query=solar&mode=keyword", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	if resp["mode"] != "keyword" {
		t.Errorf("mode = %v", resp["mode"])
	}
	if env.searcher.mode != search.ModeKeyword {
		t.Errorf("searcher saw mode %v", env.searcher.mode)
	}
	results := resp["results"].([]interface{})
	if len(results) != 1 {
		t.Errorf("results = %v", results)
	}
}

func TestSearchShortQueryParam(t *testing.T) {
	env := newTestServer(t)
	env.searcher.results = []search.Result{}

	w := env.request(t, "GET", "/search?q=solar", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	if resp["query"] != "solar" {
		t.Errorf("query = %v", resp["query"])
	}
	if resp["mode"] != "hybrid" {
		t.Errorf("mode = %v", resp["mode"])
	}
}

func TestSearchPostBody(t *testing.T) {
	env := newTestServer(t)
	payload, _ := json.Marshal(map[string]interface{}{"query": "solar", "mode": "semantic", "top_k": 5})
	w := env.request(t, "POST", "/search", payload, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if env.searcher.mode != search.ModeSemantic {
		t.Errorf("searcher saw mode %v", env.searcher.mode)
	}
}

func TestSearchUnknownMode(t *testing.T) {
	env := newTestServer(t)
	w := env.request(t, "GET", "/search?query=x&mode=fuzzy", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestDocumentEndpoints(t *testing.T) {
	env := newTestServer(t)
	seedDocument(t, env, "doc1")

	w := env.request(t, "GET", "/documents", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if docs := decodeJSON(t, w)["documents"].([]interface{}); len(docs) != 1 {
		t.Errorf("documents = %v", docs)
	}

	w = env.request(t, "GET", "/documents/doc1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	resp := decodeJSON(t, w)
	if pages := resp["pages"].([]interface{}); len(pages) != 1 {
		t.Errorf("pages = %v", pages)
	}

	w = env.request(t, "GET", "/documents/doc1/regions", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("regions status = %d", w.Code)
	}
	if regions := decodeJSON(t, w)["regions"].([]interface{}); len(regions) != 1 {
		t.Errorf("regions = %v", regions)
	}

	w = env.request(t, "GET", "/documents/doc1/pages/1/regions", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("page regions status = %d", w.Code)
	}
	if regions := decodeJSON(t, w)["regions"].([]interface{}); len(regions) != 1 {
		t.Errorf("page regions = %v", regions)
	}

	w = env.request(t, "GET", "/documents/doc1/pages/9/regions", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing page regions status = %d", w.Code)
	}

	w = env.request(t, "GET", "/documents/nope", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing document status = %d", w.Code)
	}
}

func TestDeleteDocumentEndpoint(t *testing.T) {
	env := newTestServer(t)

	w := env.request(t, "DELETE", "/documents/doc1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(env.ingestor.deleted) != 1 || env.ingestor.deleted[0] != "doc1" {
		t.Errorf("deleted = %v", env.ingestor.deleted)
	}

	w = env.request(t, "DELETE", "/documents/missing", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}
}

func TestRenderPageEndpoint(t *testing.T) {
	env := newTestServer(t)
	seedDocument(t, env, "doc1")

	w := env.request(t, "GET", "/render/page/doc1/1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %s", ct)
	}
	if w.Body.String() != "png-bytes" {
		t.Errorf("body = %q", w.Body.String())
	}

	w = env.request(t, "GET", "/render/page/doc1/9", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing page status = %d", w.Code)
	}
	w = env.request(t, "GET", "/render/page/doc1/zero", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad page number status = %d", w.Code)
	}
}

func TestRenderCropEndpoint(t *testing.T) {
	env := newTestServer(t)
	regionID := seedDocument(t, env, "doc1")

	// No crop written yet.
	w := env.request(t, "GET", fmt.Sprintf("/render/crop/doc1/%d", regionID), nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("cropless region status = %d", w.Code)
	}

	// Region belongs to doc1, not doc2.
	w = env.request(t, "GET", fmt.Sprintf("/render/crop/doc2/%d", regionID), nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("wrong document status = %d", w.Code)
	}

	w = env.request(t, "GET", "/render/crop/doc1/99999", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing region status = %d", w.Code)
	}
}

func TestChatEndpoint(t *testing.T) {
	env := newTestServer(t)
	payload, _ := json.Marshal(map[string]string{"message": "what is this?"})

	w := env.request(t, "POST", "/chat", payload, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	if resp["reply"] != "answer to: what is this?" {
		t.Errorf("reply = %v", resp["reply"])
	}

	payload, _ = json.Marshal(map[string]string{"message": "hi", "session_id": "missing"})
	w = env.request(t, "POST", "/chat", payload, "application/json")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d", w.Code)
	}
}

func TestChatSessionPathVariant(t *testing.T) {
	env := newTestServer(t)

	w := env.request(t, "POST", "/chat/sessions", nil, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d body = %s", w.Code, w.Body.String())
	}
	sessionID := decodeJSON(t, w)["id"].(string)

	payload, _ := json.Marshal(map[string]string{"message": "hello"})
	w = env.request(t, "POST", "/chat/"+sessionID, payload, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	if resp["session_id"] != sessionID {
		t.Errorf("session_id = %v", resp["session_id"])
	}

	payload, _ = json.Marshal(map[string]string{"message": "hello"})
	w = env.request(t, "POST", "/chat/missing", payload, "application/json")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d", w.Code)
	}
}

func TestChatSessionEndpoints(t *testing.T) {
	env := newTestServer(t)

	payload, _ := json.Marshal(map[string]string{"title": "quarterly report"})
	w := env.request(t, "POST", "/chat/sessions", payload, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d body = %s", w.Code, w.Body.String())
	}
	created := decodeJSON(t, w)
	sessionID := created["id"].(string)

	w = env.request(t, "GET", "/chat/sessions", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if sessions := decodeJSON(t, w)["sessions"].([]interface{}); len(sessions) != 1 {
		t.Errorf("sessions = %v", sessions)
	}

	w = env.request(t, "GET", "/chat/sessions/"+sessionID, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	resp := decodeJSON(t, w)
	if resp["session"].(map[string]interface{})["title"] != "quarterly report" {
		t.Errorf("session = %v", resp["session"])
	}

	w = env.request(t, "GET", "/chat/sessions/unknown", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d", w.Code)
	}
}
