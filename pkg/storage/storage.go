package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Storage lays out ingest artifacts on disk:
//
//	<data>/pdfs/<document_id>/<safe_name>
//	<data>/pages/<document_id>/page_<n>.png
//	<data>/crops/<document_id>/region_<id>.png
type Storage struct {
	pdfsDir  string
	pagesDir string
	cropsDir string
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func New(pdfsDir, pagesDir, cropsDir string) *Storage {
	return &Storage{pdfsDir: pdfsDir, pagesDir: pagesDir, cropsDir: cropsDir}
}

// SafeName strips path components and replaces unsafe characters so an
// uploaded filename cannot escape its document directory.
func SafeName(name string) string {
	name = filepath.Base(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "document.pdf"
	}
	return name
}

// SavePDF writes the original upload and returns its path.
func (s *Storage) SavePDF(documentID, filename string, content []byte) (string, error) {
	path := filepath.Join(s.pdfsDir, documentID, SafeName(filename))
	if err := writeFileAtomic(path, content); err != nil {
		return "", fmt.Errorf("failed to save pdf: %w", err)
	}
	return path, nil
}

// PagePath returns the location for a rendered page image.
func (s *Storage) PagePath(documentID string, pageNumber int) string {
	return filepath.Join(s.pagesDir, documentID, fmt.Sprintf("page_%d.png", pageNumber))
}

// SavePageImage writes a rendered page and returns its path.
func (s *Storage) SavePageImage(documentID string, pageNumber int, png []byte) (string, error) {
	path := s.PagePath(documentID, pageNumber)
	if err := writeFileAtomic(path, png); err != nil {
		return "", fmt.Errorf("failed to save page image: %w", err)
	}
	return path, nil
}

// CropPath returns the location for a region crop.
func (s *Storage) CropPath(documentID string, regionID int64) string {
	return filepath.Join(s.cropsDir, documentID, fmt.Sprintf("region_%d.png", regionID))
}

// SaveCrop writes a region crop and returns its path.
func (s *Storage) SaveCrop(documentID string, regionID int64, png []byte) (string, error) {
	path := s.CropPath(documentID, regionID)
	if err := writeFileAtomic(path, png); err != nil {
		return "", fmt.Errorf("failed to save crop: %w", err)
	}
	return path, nil
}

// DeleteDocument removes every stored artifact for a document.
func (s *Storage) DeleteDocument(documentID string) error {
	var firstErr error
	for _, dir := range []string{
		filepath.Join(s.pdfsDir, documentID),
		filepath.Join(s.pagesDir, documentID),
		filepath.Join(s.cropsDir, documentID),
	} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Readers resolve paths stored in the database; a missing file is the
// caller's not-found case.
func (s *Storage) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}
