package pdfimage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/gen2brain/go-fitz"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
	"github.com/kirillkom/scanwatcher/internal/core/ports"
	"github.com/kirillkom/scanwatcher/internal/infrastructure/resilience"
)

const (
	renderDPI    = 150
	maxDimension = 2048
	maxPageBytes = 1536 * 1024
)

// Extractor rasterizes the leading pages of a PDF. The primary engine is
// MuPDF; when it cannot open the document at all, embedded page images are
// recovered through a second PDF reader before giving up. Page failures are
// isolated: one broken page never suppresses its siblings.
type Extractor struct {
	temp   ports.TempStorage
	logger *slog.Logger
}

func New(temp ports.TempStorage, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{temp: temp, logger: logger}
}

func (e *Extractor) ExtractPages(ctx context.Context, sourcePath string, maxPages int) ([]domain.ExtractedPage, error) {
	if maxPages < 1 {
		maxPages = 1
	}

	if err := e.validate(sourcePath); err != nil {
		return nil, err
	}

	pages, primaryErr := e.extractPrimary(ctx, sourcePath, maxPages)
	if primaryErr != nil {
		e.logger.Warn("primary_extraction_failed",
			"path", sourcePath,
			"error", primaryErr,
		)
		var fallbackErr error
		pages, fallbackErr = e.extractFallback(ctx, sourcePath, maxPages)
		if fallbackErr != nil {
			return nil, dualEngineFailure("extract pages",
				fmt.Errorf("both engines failed: primary: %v; fallback: %w", primaryErr, fallbackErr))
		}
	}

	if len(pages) == 0 {
		return nil, domain.WrapError(domain.ErrPermanent, "extract pages",
			errors.New("no usable pages"))
	}
	return pages, nil
}

// validate rejects documents neither engine can work with before any page is
// rendered: missing, empty, or structurally broken files.
func (e *Extractor) validate(sourcePath string) error {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return domain.WrapError(domain.ErrPermanent, "validate document",
			fmt.Errorf("%w: %w", domain.ErrDocumentInvalid, err))
	}
	if info.Size() == 0 {
		return domain.WrapError(domain.ErrPermanent, "validate document",
			fmt.Errorf("%w: document is empty", domain.ErrDocumentInvalid))
	}

	doc, err := fitz.New(sourcePath)
	if err != nil {
		// Second opinion before declaring the document unreadable.
		if _, countErr := fallbackPageCount(sourcePath); countErr != nil {
			cause := fmt.Errorf("unreadable by both engines: %v; %v", err, countErr)
			if resilience.Classify(cause) == domain.SeverityTransient {
				return domain.WrapError(domain.ErrTransient, "validate document", cause)
			}
			return domain.WrapError(domain.ErrPermanent, "validate document",
				fmt.Errorf("%w: %w", domain.ErrDocumentInvalid, cause))
		}
		return nil
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return domain.WrapError(domain.ErrPermanent, "validate document",
			fmt.Errorf("%w: document has no pages", domain.ErrDocumentInvalid))
	}
	return nil
}

// dualEngineFailure tags a failure of both engines by the severity of its
// cause. A sharing violation on a file another process is still writing gets
// retried instead of being declared unreadable.
func dualEngineFailure(op string, cause error) error {
	kind := domain.ErrPermanent
	if resilience.Classify(cause) == domain.SeverityTransient {
		kind = domain.ErrTransient
	}
	return domain.WrapError(kind, op, cause)
}

func (e *Extractor) extractPrimary(ctx context.Context, sourcePath string, maxPages int) ([]domain.ExtractedPage, error) {
	doc, err := fitz.New(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	count := maxPages
	if total < count {
		count = total
	}

	pages := make([]domain.ExtractedPage, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.ImageDPI(i, renderDPI)
		if err != nil {
			e.logger.Warn("page_render_failed",
				"path", sourcePath,
				"page", i+1,
				"error", err,
			)
			continue
		}

		page, err := e.finishPage(img, len(pages), i+1)
		if err != nil {
			e.logger.Warn("page_encode_failed",
				"path", sourcePath,
				"page", i+1,
				"error", err,
			)
			continue
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// finishPage downscales and re-encodes a rendered page and parks a copy in
// temp storage for the item's lifetime. The temp copy is best-effort; the
// in-memory bytes are what travels to the classifier.
func (e *Extractor) finishPage(img image.Image, index, pageNumber int) (domain.ExtractedPage, error) {
	data, err := optimize(img)
	if err != nil {
		return domain.ExtractedPage{}, fmt.Errorf("optimize page %d: %w", pageNumber, err)
	}

	page := domain.ExtractedPage{
		Index:      index,
		PageNumber: pageNumber,
		Data:       data,
	}

	if e.temp != nil {
		tmpPath, err := e.temp.NewFile(".jpg")
		if err != nil {
			e.logger.Warn("temp_page_file_failed", "page", pageNumber, "error", err)
			return page, nil
		}
		if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
			e.logger.Warn("temp_page_write_failed", "page", pageNumber, "error", err)
			return page, nil
		}
		page.TempPath = tmpPath
	}
	return page, nil
}
