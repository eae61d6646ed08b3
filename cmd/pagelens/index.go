package pagelens

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pagelens/pagelens/pkg/ingest"
)

var indexCmd = &cobra.Command{
	Use:   "index [pdf_or_directory]",
	Short: "Ingest PDF documents into the index",
	Long: `Ingest a single PDF, or every PDF found recursively under a directory.
Re-ingesting identical bytes is skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("cannot access %s: %w", path, err)
		}

		var pdfs []string
		if info.IsDir() {
			pdfs, err = collectPDFs(path)
			if err != nil {
				return err
			}
			if len(pdfs) == 0 {
				return fmt.Errorf("no PDF files found under %s", path)
			}
		} else {
			pdfs = []string{path}
		}

		ctx := context.Background()
		svc, err := buildServices(ctx, cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		indexFiles(ctx, svc.pipeline, pdfs, os.Stdout, os.Stderr)
		return nil
	},
}

type documentIngestor interface {
	Ingest(ctx context.Context, filename string, pdf []byte) (*ingest.Result, error)
}

// indexFiles ingests each PDF in turn. One bad PDF must not stop the
// rest of a batch.
func indexFiles(ctx context.Context, pipeline documentIngestor, pdfs []string, out, errOut io.Writer) (ingested, skipped, failed int) {
	for _, pdf := range pdfs {
		content, err := os.ReadFile(pdf)
		if err != nil {
			failed++
			fmt.Fprintf(errOut, "failed %s: %v\n", pdf, err)
			continue
		}

		result, err := pipeline.Ingest(ctx, filepath.Base(pdf), content)
		if err != nil {
			failed++
			fmt.Fprintf(errOut, "failed %s: %v\n", pdf, err)
			continue
		}

		if result.Skipped {
			skipped++
			fmt.Fprintf(out, "skipped %s (duplicate or empty)\n", pdf)
			continue
		}
		ingested++
		fmt.Fprintf(out, "ingested %s: %d pages, %d chunks, %d regions (document %s)\n",
			pdf, result.Pages, result.Chunks, result.Regions, result.DocumentID)
	}

	fmt.Fprintf(out, "done: %d ingested, %d skipped, %d failed\n", ingested, skipped, failed)
	return ingested, skipped, failed
}

// collectPDFs walks dir recursively and returns every .pdf file.
func collectPDFs(dir string) ([]string, error) {
	var pdfs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			pdfs = append(pdfs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return pdfs, nil
}
