package services

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"ai-tutor-platform/internal/logger"

	"github.com/ledongthuc/pdf"
)

// pageSeparator joins page texts so the chunker sees a paragraph break.
const pageSeparator = "\n\n"

// ExtractionResult contains the result of PDF text extraction
type ExtractionResult struct {
	Text   string
	Method string
	// PageStarts[i] is the rune offset in Text where page i+1 begins.
	PageStarts   []int
	QualityScore float64
}

// Pages returns the number of pages that contributed text.
func (r *ExtractionResult) Pages() int { return len(r.PageStarts) }

// PageAt maps a rune offset in Text to a 1-based page number.
func (r *ExtractionResult) PageAt(offset int) int {
	if len(r.PageStarts) == 0 {
		return 1
	}
	i := sort.Search(len(r.PageStarts), func(i int) bool { return r.PageStarts[i] > offset })
	if i == 0 {
		return 1
	}
	return i
}

// PDFExtractor pulls plain text out of PDF bytes. The pure-Go reader runs
// first; pdftotext is tried when it fails or yields unusable text.
type PDFExtractor struct {
	popplerEnabled bool
	popplerTimeout time.Duration
}

func NewPDFExtractor(popplerFallback bool) *PDFExtractor {
	return &PDFExtractor{
		popplerEnabled: popplerFallback,
		popplerTimeout: 30 * time.Second,
	}
}

func (e *PDFExtractor) Extract(ctx context.Context, content []byte) (*ExtractionResult, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("empty document body")
	}

	result, err := e.extractWithGoPDF(content)
	if err == nil {
		result.QualityScore = evaluateTextQuality(result.Text)
		if result.QualityScore >= 0.3 {
			return result, nil
		}
	}

	if !e.popplerEnabled || !hasBinary("pdftotext") {
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	logger.Debug("falling back to pdftotext", "go_pdf_error", err)
	fallback, perr := e.extractWithPoppler(ctx, content)
	if perr != nil {
		if err != nil {
			return nil, fmt.Errorf("go-pdf: %v; pdftotext: %w", err, perr)
		}
		return result, nil
	}
	fallback.QualityScore = evaluateTextQuality(fallback.Text)
	if result != nil && result.QualityScore >= fallback.QualityScore {
		return result, nil
	}
	return fallback, nil
}

// extractWithGoPDF uses the Go PDF library for extraction
func (e *PDFExtractor) extractWithGoPDF(content []byte) (result *ExtractionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn("failed to extract text from page", "page", i, "error", err)
			text = ""
		}
		pages = append(pages, text)
	}

	return assemblePages("go-pdf", pages), nil
}

// extractWithPoppler uses poppler-utils (pdftotext) for extraction
func (e *PDFExtractor) extractWithPoppler(ctx context.Context, content []byte) (*ExtractionResult, error) {
	extractCtx, cancel := context.WithTimeout(ctx, e.popplerTimeout)
	defer cancel()

	cmd := exec.CommandContext(extractCtx, "pdftotext", "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(content)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftotext failed: %v, stderr: %s", err, stderr.String())
	}

	// pdftotext ends every page with a form feed.
	pages := strings.Split(strings.TrimSuffix(stdout.String(), "\f"), "\f")
	return assemblePages("poppler", pages), nil
}

// assemblePages joins page texts and records where each page starts.
func assemblePages(method string, pages []string) *ExtractionResult {
	var sb strings.Builder
	starts := make([]int, 0, len(pages))
	offset := 0
	for i, page := range pages {
		if i > 0 {
			sb.WriteString(pageSeparator)
			offset += utf8.RuneCountInString(pageSeparator)
		}
		page = strings.TrimSpace(page)
		starts = append(starts, offset)
		sb.WriteString(page)
		offset += utf8.RuneCountInString(page)
	}
	return &ExtractionResult{Text: sb.String(), Method: method, PageStarts: starts}
}

func hasBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// evaluateTextQuality scores extracted text between 0 and 1. Garbled font
// decoding shows up as replacement and control characters.
func evaluateTextQuality(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	var letters, corrupted, total int
	for _, r := range text {
		total++
		switch {
		case r == utf8.RuneError:
			corrupted++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			letters++
		case unicode.IsControl(r) && !unicode.IsSpace(r):
			corrupted++
		}
	}

	score := float64(letters)/float64(total) + 0.2 - 2*float64(corrupted)/float64(total)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
