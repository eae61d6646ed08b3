package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pagelens/pagelens/pkg/core"
)

// ContentStore owns the content database: documents, pages, text
// chunks, image regions, and the FTS index kept in sync by triggers.
type ContentStore struct {
	db *sql.DB
}

// OpenContent opens (and migrates) the content database. A database
// held by another process surfaces as core.ErrDatabaseLocked so the
// CLI can print an actionable message instead of a driver error.
func OpenContent(path string) (*ContentStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open content database: %w", err)
	}

	store := &ContentStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		if isLockedErr(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrDatabaseLocked, path)
		}
		return nil, err
	}
	return store, nil
}

func isLockedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func (s *ContentStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		file_hash TEXT NOT NULL UNIQUE,
		file_path TEXT NOT NULL,
		page_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		page_number INTEGER NOT NULL,
		image_path TEXT NOT NULL DEFAULT '',
		ocr_text TEXT NOT NULL DEFAULT '',
		ocr_metadata TEXT,
		UNIQUE(document_id, page_number)
	);

	CREATE TABLE IF NOT EXISTS text_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		vector_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS image_regions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
		document_id TEXT NOT NULL,
		label TEXT NOT NULL,
		y0 REAL NOT NULL,
		x0 REAL NOT NULL,
		y1 REAL NOT NULL,
		x1 REAL NOT NULL,
		crop_path TEXT NOT NULL DEFAULT '',
		vector_id TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_pages_document_id ON pages(document_id);
	CREATE INDEX IF NOT EXISTS idx_text_chunks_page_id ON text_chunks(page_id);
	CREATE INDEX IF NOT EXISTS idx_text_chunks_vector_id ON text_chunks(vector_id);
	CREATE INDEX IF NOT EXISTS idx_image_regions_page_id ON image_regions(page_id);
	CREATE INDEX IF NOT EXISTS idx_image_regions_vector_id ON image_regions(vector_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS text_chunks_fts USING fts5(
		text,
		content='text_chunks',
		content_rowid='id'
	);

	CREATE TRIGGER IF NOT EXISTS text_chunks_ai AFTER INSERT ON text_chunks BEGIN
		INSERT INTO text_chunks_fts(rowid, text) VALUES (new.id, new.text);
	END;
	CREATE TRIGGER IF NOT EXISTS text_chunks_ad AFTER DELETE ON text_chunks BEGIN
		INSERT INTO text_chunks_fts(text_chunks_fts, rowid, text) VALUES ('delete', old.id, old.text);
	END;
	CREATE TRIGGER IF NOT EXISTS text_chunks_au AFTER UPDATE ON text_chunks BEGIN
		INSERT INTO text_chunks_fts(text_chunks_fts, rowid, text) VALUES ('delete', old.id, old.text);
		INSERT INTO text_chunks_fts(rowid, text) VALUES (new.id, new.text);
	END;
	`
	_, err := s.db.Exec(query)
	return err
}

// Close closes the underlying database.
func (s *ContentStore) Close() error { return s.db.Close() }

// Begin starts the transaction that owns all database work of one
// ingest. Rollback before commit leaves no trace of the document.
func (s *ContentStore) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// FindDocumentByHash returns the document with the given content hash,
// or core.ErrNotFound.
func (s *ContentStore) FindDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_hash, file_path, page_count, created_at
		FROM documents WHERE file_hash = ?`, hash)
	return scanDocument(row)
}

// InsertDocument adds the document row inside the ingest transaction.
func (s *ContentStore) InsertDocument(ctx context.Context, tx *sql.Tx, doc *Document) error {
	if doc.CreatedAt == 0 {
		doc.CreatedAt = time.Now().Unix()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, filename, file_hash, file_path, page_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.FileHash, doc.FilePath, doc.PageCount, doc.CreatedAt)
	return err
}

// InsertPage adds a page skeleton and fills in its generated ID. Pages
// are inserted before OCR runs; ocr_text arrives via UpdatePageOCR.
func (s *ContentStore) InsertPage(ctx context.Context, tx *sql.Tx, page *Page) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO pages (document_id, page_number, image_path, ocr_text, ocr_metadata)
		VALUES (?, ?, ?, ?, ?)`,
		page.DocumentID, page.PageNumber, page.ImagePath, page.OCRText,
		sql.NullString{String: page.OCRMetadata, Valid: page.OCRMetadata != ""})
	if err != nil {
		return err
	}
	page.ID, err = res.LastInsertId()
	return err
}

// UpdatePageOCR records the OCR result for a page.
func (s *ContentStore) UpdatePageOCR(ctx context.Context, tx *sql.Tx, pageID int64, text, metadata string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE pages SET ocr_text = ?, ocr_metadata = ? WHERE id = ?`,
		text, sql.NullString{String: metadata, Valid: metadata != ""}, pageID)
	return err
}

// InsertChunk adds a text chunk and fills in its generated ID.
func (s *ContentStore) InsertChunk(ctx context.Context, tx *sql.Tx, chunk *TextChunk) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO text_chunks (page_id, document_id, chunk_index, text, vector_id)
		VALUES (?, ?, ?, ?, ?)`,
		chunk.PageID, chunk.DocumentID, chunk.ChunkIndex, chunk.Text, chunk.VectorID)
	if err != nil {
		return err
	}
	chunk.ID, err = res.LastInsertId()
	return err
}

// SetChunkVectorID links a chunk to its stored embedding.
func (s *ContentStore) SetChunkVectorID(ctx context.Context, tx *sql.Tx, chunkID int64, vectorID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE text_chunks SET vector_id = ? WHERE id = ?`, vectorID, chunkID)
	return err
}

// InsertRegion adds an image region and fills in its generated ID.
func (s *ContentStore) InsertRegion(ctx context.Context, tx *sql.Tx, region *ImageRegion) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO image_regions (page_id, document_id, label, y0, x0, y1, x1, crop_path, vector_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		region.PageID, region.DocumentID, region.Label,
		region.Y0, region.X0, region.Y1, region.X1,
		region.CropPath, region.VectorID)
	if err != nil {
		return err
	}
	region.ID, err = res.LastInsertId()
	return err
}

// UpdateRegionArtifacts records the crop path and vector id for a
// detected region once its embedding is stored.
func (s *ContentStore) UpdateRegionArtifacts(ctx context.Context, tx *sql.Tx, regionID int64, cropPath, vectorID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE image_regions SET crop_path = ?, vector_id = ? WHERE id = ?`,
		cropPath, vectorID, regionID)
	return err
}

// ListDocuments returns all documents newest first.
func (s *ContentStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, file_hash, file_path, page_count, created_at
		FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.FileHash, &d.FilePath, &d.PageCount, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

// GetDocument returns one document or core.ErrNotFound.
func (s *ContentStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_hash, file_path, page_count, created_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListPageSummaries returns the page overview for a document in page
// order, with region ids attached.
func (s *ContentStore) ListPageSummaries(ctx context.Context, documentID string) ([]*PageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_number, image_path != '', length(trim(ocr_text)) > 0
		FROM pages WHERE document_id = ? ORDER BY page_number`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]*PageSummary)
	var summaries []*PageSummary
	for rows.Next() {
		var p PageSummary
		if err := rows.Scan(&p.ID, &p.PageNumber, &p.HasImage, &p.HasOCRText); err != nil {
			return nil, err
		}
		summaries = append(summaries, &p)
		byID[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	regionRows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id FROM image_regions WHERE document_id = ? ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	defer regionRows.Close()
	for regionRows.Next() {
		var regionID, pageID int64
		if err := regionRows.Scan(&regionID, &pageID); err != nil {
			return nil, err
		}
		if p, ok := byID[pageID]; ok {
			p.RegionIDs = append(p.RegionIDs, regionID)
		}
	}
	return summaries, regionRows.Err()
}

// GetPage returns a page by document id and page number.
func (s *ContentStore) GetPage(ctx context.Context, documentID string, pageNumber int) (*Page, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, page_number, image_path, ocr_text, COALESCE(ocr_metadata, '')
		FROM pages WHERE document_id = ? AND page_number = ?`, documentID, pageNumber)
	var p Page
	err := row.Scan(&p.ID, &p.DocumentID, &p.PageNumber, &p.ImagePath, &p.OCRText, &p.OCRMetadata)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetRegion returns a region by id.
func (s *ContentStore) GetRegion(ctx context.Context, regionID int64) (*ImageRegion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, page_id, document_id, label, y0, x0, y1, x1, crop_path, vector_id
		FROM image_regions WHERE id = ?`, regionID)
	var r ImageRegion
	err := row.Scan(&r.ID, &r.PageID, &r.DocumentID, &r.Label,
		&r.Y0, &r.X0, &r.Y1, &r.X1, &r.CropPath, &r.VectorID)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRegions returns all regions of a document in id order.
func (s *ContentStore) ListRegions(ctx context.Context, documentID string) ([]*ImageRegion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id, document_id, label, y0, x0, y1, x1, crop_path, vector_id
		FROM image_regions WHERE document_id = ? ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []*ImageRegion
	for rows.Next() {
		var r ImageRegion
		if err := rows.Scan(&r.ID, &r.PageID, &r.DocumentID, &r.Label,
			&r.Y0, &r.X0, &r.Y1, &r.X1, &r.CropPath, &r.VectorID); err != nil {
			return nil, err
		}
		regions = append(regions, &r)
	}
	return regions, rows.Err()
}

// ListPageRegions returns the regions of one page of a document.
func (s *ContentStore) ListPageRegions(ctx context.Context, documentID string, pageNumber int) ([]*ImageRegion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.page_id, r.document_id, r.label, r.y0, r.x0, r.y1, r.x1, r.crop_path, r.vector_id
		FROM image_regions r
		JOIN pages p ON p.id = r.page_id
		WHERE r.document_id = ? AND p.page_number = ?
		ORDER BY r.id`, documentID, pageNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []*ImageRegion
	for rows.Next() {
		var r ImageRegion
		if err := rows.Scan(&r.ID, &r.PageID, &r.DocumentID, &r.Label,
			&r.Y0, &r.X0, &r.Y1, &r.X1, &r.CropPath, &r.VectorID); err != nil {
			return nil, err
		}
		regions = append(regions, &r)
	}
	return regions, rows.Err()
}

// VectorIDs returns every vector id registered for a document, both
// chunks and regions.
func (s *ContentStore) VectorIDs(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vector_id FROM text_chunks WHERE document_id = ? AND vector_id != ''
		UNION ALL
		SELECT vector_id FROM image_regions WHERE document_id = ? AND vector_id != ''`,
		documentID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteDocument removes the document and, via cascade, its pages,
// chunks, regions, and FTS rows.
func (s *ContentStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// KeywordHit is one ranked result from the keyword index.
type KeywordHit struct {
	VectorID string
	Score    float64
}

// SearchKeyword ranks chunk text via FTS and region labels via LIKE,
// returning vector ids best first. The query is quoted so FTS operator
// characters in user input cannot break the MATCH expression.
func (s *ContentStore) SearchKeyword(ctx context.Context, query string, limit int) ([]KeywordHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	ftsQuery := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.vector_id, bm25(text_chunks_fts) AS rank
		FROM text_chunks_fts
		JOIN text_chunks c ON c.id = text_chunks_fts.rowid
		WHERE text_chunks_fts MATCH ? AND c.vector_id != ''
		ORDER BY rank
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		var rank float64
		if err := rows.Scan(&h.VectorID, &rank); err != nil {
			return nil, err
		}
		// bm25 is smaller-is-better; flip so callers sort descending.
		h.Score = -rank
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	likeQuery := "%" + query + "%"
	regionRows, err := s.db.QueryContext(ctx, `
		SELECT vector_id FROM image_regions
		WHERE label LIKE ? AND vector_id != ''
		ORDER BY id LIMIT ?`, likeQuery, limit)
	if err != nil {
		return nil, err
	}
	defer regionRows.Close()
	for regionRows.Next() {
		var h KeywordHit
		if err := regionRows.Scan(&h.VectorID); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, regionRows.Err()
}

// ResolvedResult carries the content behind one vector id.
type ResolvedResult struct {
	VectorID      string
	Type          string // "text" or "image"
	DocumentID    string
	DocumentTitle string
	PageID        int64
	PageNumber    int
	ChunkID       int64
	Text          string
	RegionID      int64
	Label         string
	CropPath      string
}

// ResolveVectorIDs maps vector ids back to their chunks and regions in
// two batched queries. Unknown ids are silently absent from the map.
func (s *ContentStore) ResolveVectorIDs(ctx context.Context, vectorIDs []string) (map[string]*ResolvedResult, error) {
	resolved := make(map[string]*ResolvedResult, len(vectorIDs))
	if len(vectorIDs) == 0 {
		return resolved, nil
	}

	placeholders := strings.Repeat("?,", len(vectorIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(vectorIDs))
	for i, id := range vectorIDs {
		args[i] = id
	}

	chunkRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.vector_id, c.id, c.document_id, d.filename, c.page_id, p.page_number, c.text
		FROM text_chunks c
		JOIN pages p ON p.id = c.page_id
		JOIN documents d ON d.id = c.document_id
		WHERE c.vector_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer chunkRows.Close()
	for chunkRows.Next() {
		r := &ResolvedResult{Type: "text"}
		if err := chunkRows.Scan(&r.VectorID, &r.ChunkID, &r.DocumentID, &r.DocumentTitle, &r.PageID, &r.PageNumber, &r.Text); err != nil {
			return nil, err
		}
		resolved[r.VectorID] = r
	}
	if err := chunkRows.Err(); err != nil {
		return nil, err
	}

	regionRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.vector_id, r.document_id, d.filename, r.page_id, p.page_number, r.id, r.label, r.crop_path
		FROM image_regions r
		JOIN pages p ON p.id = r.page_id
		JOIN documents d ON d.id = r.document_id
		WHERE r.vector_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer regionRows.Close()
	for regionRows.Next() {
		r := &ResolvedResult{Type: "image"}
		if err := regionRows.Scan(&r.VectorID, &r.DocumentID, &r.DocumentTitle, &r.PageID, &r.PageNumber, &r.RegionID, &r.Label, &r.CropPath); err != nil {
			return nil, err
		}
		resolved[r.VectorID] = r
	}
	return resolved, regionRows.Err()
}

func scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Filename, &d.FileHash, &d.FilePath, &d.PageCount, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
