// -----------------------------------------------------------------------
// Attachment Extractor Service - Extract text from linked documents
// Uses pdfcpu for PDFs and archive/zip + encoding/xml for DOCX
// -----------------------------------------------------------------------

package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
)

const (
	downloadAttempts = 3
	downloadBackoff  = 1 * time.Second

	// paragraphsPerPage approximates one "page" of a paginated document
	// for formats without real page boundaries.
	paragraphsPerPage = 10
)

// Service downloads announcement attachments and extracts plain text from
// them. Extraction is best effort: any failure yields an empty string so a
// broken attachment never sinks the page it hangs off.
type Service struct {
	client   *http.Client
	logger   arbor.ILogger
	tempDir  string
	maxBytes int64
}

// NewService creates an attachment extractor.
func NewService(client *http.Client, maxBytes int64, logger arbor.ILogger) *Service {
	tempDir := filepath.Join(os.TempDir(), "welfare-extract")
	os.MkdirAll(tempDir, 0755)

	return &Service{
		client:   client,
		logger:   logger,
		tempDir:  tempDir,
		maxBytes: maxBytes,
	}
}

// ExtractText downloads the document at url and returns its text, keeping
// at most maxPages pages for paginated formats. Returns "" when the
// document cannot be fetched or parsed.
func (s *Service) ExtractText(ctx context.Context, url string, maxPages int) string {
	data, err := s.download(ctx, url)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", url).Msg("Attachment download failed")
		return ""
	}
	if len(data) == 0 {
		return ""
	}

	maxParagraphs := 0
	if maxPages > 0 {
		maxParagraphs = maxPages * paragraphsPerPage
	}

	var text string
	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		text, err = s.extractPDF(data, maxPages)
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		text, err = extractDOCX(data, maxParagraphs)
	case looksLikeHTML(data):
		text, err = extractHTML(data, maxParagraphs)
	case isMostlyText(data):
		text = boundParagraphs(splitPlainParagraphs(string(data)), maxParagraphs)
	default:
		s.logger.Debug().Str("url", url).Msg("Unrecognized attachment format, skipping")
		return ""
	}

	if err != nil {
		s.logger.Warn().Err(err).Str("url", url).Msg("Attachment text extraction failed")
		return ""
	}

	return collapseWhitespace(text)
}

// download fetches the document with a small fixed-delay retry loop.
func (s *Service) download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(downloadBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := s.downloadOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		s.logger.Debug().
			Err(err).
			Str("url", url).
			Int("attempt", attempt).
			Msg("Attachment download attempt failed")
	}
	return nil, fmt.Errorf("download failed after %d attempts: %w", downloadAttempts, lastErr)
}

func (s *Service) downloadOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
}

// extractPDF extracts text from the first maxPages pages of a PDF.
// pdfcpu works on files, so the bytes round-trip through a temp file.
func (s *Service) extractPDF(data []byte, maxPages int) (string, error) {
	tempFile := filepath.Join(s.tempDir, fmt.Sprintf("doc_%s.pdf", uuid.New().String()))
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	defer os.Remove(tempFile)

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF context: %w", err)
	}

	pageCount := pdfCtx.PageCount
	if maxPages > 0 && pageCount > maxPages {
		pageCount = maxPages
	}

	outDir := filepath.Join(s.tempDir, fmt.Sprintf("pages_%s", uuid.New().String()))
	os.MkdirAll(outDir, 0755)
	defer os.RemoveAll(outDir)

	selectedPages := make([]string, 0, pageCount)
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		selectedPages = append(selectedPages, fmt.Sprintf("%d", pageNum))
	}

	if err := api.ExtractContentFile(tempFile, outDir, selectedPages, conf); err != nil {
		return "", fmt.Errorf("failed to extract PDF content: %w", err)
	}

	// Content files are named Content_page_N; stitch them back in order.
	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	var fullText strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if text, ok := pageTexts[pageNum]; ok {
			if fullText.Len() > 0 {
				fullText.WriteString("\n\n")
			}
			fullText.WriteString(text)
		}
	}

	return fullText.String(), nil
}

// docParagraph mirrors the fragment of the WordprocessingML schema needed
// to pull visible text out of word/document.xml.
type docParagraph struct {
	Texts []string `xml:"r>t"`
}

type docBody struct {
	Paragraphs []docParagraph `xml:"body>p"`
}

// extractDOCX reads word/document.xml out of the DOCX zip container and
// joins the first maxParagraphs paragraphs with newlines.
func extractDOCX(data []byte, maxParagraphs int) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open DOCX container: %w", err)
	}

	var docFile *zip.File
	for _, f := range reader.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("no word/document.xml in archive")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open document.xml: %w", err)
	}
	defer rc.Close()

	xmlData, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read document.xml: %w", err)
	}

	var body docBody
	if err := xml.Unmarshal(xmlData, &body); err != nil {
		return "", fmt.Errorf("failed to parse document.xml: %w", err)
	}

	paragraphs := make([]string, 0, len(body.Paragraphs))
	for _, p := range body.Paragraphs {
		line := strings.Join(p.Texts, "")
		if line == "" {
			continue
		}
		paragraphs = append(paragraphs, line)
	}

	return boundParagraphs(paragraphs, maxParagraphs), nil
}

// htmlBlockSelector matches the block-level elements whose text forms one
// paragraph each.
const htmlBlockSelector = "p, h1, h2, h3, h4, h5, h6, li, td, th, blockquote, pre"

// extractHTML strips markup and returns the body text as newline-separated
// paragraphs, keeping at most maxParagraphs of them.
func extractHTML(data []byte, maxParagraphs int) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	var paragraphs []string
	doc.Find(htmlBlockSelector).Each(func(_ int, sel *goquery.Selection) {
		// Skip containers whose text would repeat that of a nested block.
		if sel.Find(htmlBlockSelector).Length() > 0 {
			return
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	// Bodies without block markup fall back to raw body text.
	if len(paragraphs) == 0 {
		if text := strings.TrimSpace(doc.Find("body").Text()); text != "" {
			paragraphs = splitPlainParagraphs(text)
		}
	}

	return boundParagraphs(paragraphs, maxParagraphs), nil
}

// splitPlainParagraphs treats each non-blank line of plain text as a
// paragraph.
func splitPlainParagraphs(s string) []string {
	lines := strings.Split(s, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// boundParagraphs joins at most max paragraphs with newlines. A max of zero
// or less means no bound.
func boundParagraphs(paragraphs []string, max int) string {
	if max > 0 && len(paragraphs) > max {
		paragraphs = paragraphs[:max]
	}
	return strings.Join(paragraphs, "\n")
}

func looksLikeHTML(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	lowered := bytes.ToLower(head)
	return bytes.Contains(lowered, []byte("<html")) ||
		bytes.Contains(lowered, []byte("<!doctype html")) ||
		bytes.Contains(lowered, []byte("<body"))
}

// isMostlyText reports whether the payload is plausibly plain text. A small
// sample is scanned for NUL and other control bytes.
func isMostlyText(data []byte) bool {
	sample := data
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	control := 0
	for _, b := range sample {
		if b == 0 {
			return false
		}
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			control++
		}
	}
	return control*20 < len(sample)
}

// collapseWhitespace squeezes runs of blank space so extracted documents
// do not bloat stored content with layout artifacts.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.Join(strings.Fields(line), " ")
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}
