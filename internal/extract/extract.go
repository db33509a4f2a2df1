// Package extract pulls text out of uploaded PDF invoices and reconstructs
// a textual rendering of an invoice when the source document is gone.
package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

const (
	// MaxFileSize is the largest PDF accepted for extraction
	MaxFileSize = 10 << 20

	// minTextThreshold marks a document as likely scanned when the whole
	// PDF yields fewer characters than this
	minTextThreshold = 100

	maxPages = 50
)

// Result is the outcome of a PDF text extraction
type Result struct {
	Text          string
	PageCount     int
	LikelyScanned bool
	Warnings      []string
}

// Extractor extracts text from PDF files
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates an extractor
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// ExtractPDF extracts text from a digital PDF. Scanned or image-based
// documents are detected by text volume and rejected with a clear error so
// the operator can enter the invoice manually.
func (e *Extractor) ExtractPDF(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("file too large: %.1fMB (maximum %dMB)",
			float64(info.Size())/(1<<20), MaxFileSize>>20)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("invalid or corrupted PDF file: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	result := &Result{PageCount: total}
	pages := total
	if pages > maxPages {
		pages = maxPages
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("PDF has %d pages; only processing first %d", total, maxPages))
	}

	var parts []string
	for i := 0; i < pages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Page %d extraction failed: %v", i+1, err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", i+1, text))
		}
	}
	result.Text = strings.Join(parts, "\n\n")

	if len(strings.TrimSpace(result.Text)) < minTextThreshold {
		result.LikelyScanned = true
		e.logger.Warn("PDF appears to be scanned",
			zap.String("path", path),
			zap.Int("chars", len(result.Text)),
			zap.Int("pages", total),
		)
		return result, fmt.Errorf(
			"this PDF appears to be scanned or image-based: only %d characters of text were found in %d page(s)",
			len(strings.TrimSpace(result.Text)), total)
	}

	e.logger.Info("PDF extraction successful",
		zap.String("path", path),
		zap.Int("chars", len(result.Text)),
		zap.Int("pages", total),
	)
	return result, nil
}
