package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	dir := t.TempDir()
	return New(
		filepath.Join(dir, "pdfs"),
		filepath.Join(dir, "pages"),
		filepath.Join(dir, "crops"),
	)
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"my file (1).pdf", "my_file_1_.pdf"},
		{"", "document.pdf"},
		{"///", "document.pdf"},
	}
	for _, tt := range tests {
		if got := SafeName(tt.in); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSavePDFAndRead(t *testing.T) {
	s := newTestStorage(t)

	content := []byte("%PDF-1.4 fake")
	path, err := s.SavePDF("doc1", "report.pdf", content)
	if err != nil {
		t.Fatalf("SavePDF failed: %v", err)
	}

	got, err := s.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: %q", got)
	}
}

func TestPathsAreDeterministic(t *testing.T) {
	s := newTestStorage(t)

	p1 := s.PagePath("doc1", 3)
	p2 := s.PagePath("doc1", 3)
	if p1 != p2 {
		t.Errorf("page paths differ: %q vs %q", p1, p2)
	}
	if filepath.Base(p1) != "page_3.png" {
		t.Errorf("unexpected page file name: %q", filepath.Base(p1))
	}
	if filepath.Base(s.CropPath("doc1", 42)) != "region_42.png" {
		t.Errorf("unexpected crop file name")
	}
}

func TestDeleteDocument(t *testing.T) {
	s := newTestStorage(t)

	if _, err := s.SavePDF("doc1", "a.pdf", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SavePageImage("doc1", 1, []byte("png")); err != nil {
		t.Fatal(err)
	}
	cropPath, err := s.SaveCrop("doc1", 7, []byte("png"))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteDocument("doc1"); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if _, err := os.Stat(cropPath); !os.IsNotExist(err) {
		t.Errorf("crop still exists after delete")
	}

	// Deleting again is a no-op.
	if err := s.DeleteDocument("doc1"); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}
