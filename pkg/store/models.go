package store

// Document is one ingested PDF, identified by content hash.
type Document struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	FileHash  string `json:"file_hash"`
	FilePath  string `json:"file_path"`
	PageCount int    `json:"page_count"`
	CreatedAt int64  `json:"created_at"`
}

// Page is one rendered page of a document.
type Page struct {
	ID          int64  `json:"id"`
	DocumentID  string `json:"document_id"`
	PageNumber  int    `json:"page_number"`
	ImagePath   string `json:"image_path"`
	OCRText     string `json:"ocr_text"`
	OCRMetadata string `json:"ocr_metadata,omitempty"`
}

// TextChunk is one fixed-size window of a page's OCR text. VectorID
// links the row to its embedding in the vector store.
type TextChunk struct {
	ID         int64  `json:"id"`
	PageID     int64  `json:"page_id"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	VectorID   string `json:"vector_id"`
}

// ImageRegion is one detected visual region on a page. Box coordinates
// are raster pixels in [y0, x0, y1, x1] order.
type ImageRegion struct {
	ID         int64   `json:"id"`
	PageID     int64   `json:"page_id"`
	DocumentID string  `json:"document_id"`
	Label      string  `json:"label"`
	Y0         float64 `json:"y0"`
	X0         float64 `json:"x0"`
	Y1         float64 `json:"y1"`
	X1         float64 `json:"x1"`
	CropPath   string  `json:"crop_path"`
	VectorID   string  `json:"vector_id"`
}

// PageSummary is the per-page listing shape for document detail.
type PageSummary struct {
	ID         int64  `json:"id"`
	PageNumber int    `json:"page_number"`
	HasImage   bool   `json:"has_image"`
	HasOCRText bool   `json:"has_ocr_text"`
	RegionIDs  []int64 `json:"region_ids,omitempty"`
}
