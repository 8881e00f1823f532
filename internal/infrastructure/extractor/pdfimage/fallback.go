package pdfimage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

// The fallback engine does not rasterize. Scanned documents are almost
// always one embedded raster image per page, so recovering the page's image
// XObjects yields an equivalent picture of the page when MuPDF cannot open
// the file. The pdf library panics on malformed structures, hence the
// recover guards around every descent into it.

func fallbackPageCount(sourcePath string) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(sourcePath)
	if err != nil {
		return 0, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	return reader.NumPage(), nil
}

func (e *Extractor) extractFallback(ctx context.Context, sourcePath string, maxPages int) ([]domain.ExtractedPage, error) {
	f, reader, err := pdf.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	count := maxPages
	if total < count {
		count = total
	}

	pages := make([]domain.ExtractedPage, 0, count)
	for pageNum := 1; pageNum <= count; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := recoverPageImage(reader, pageNum)
		if err != nil {
			e.logger.Warn("fallback_page_failed",
				"path", sourcePath,
				"page", pageNum,
				"error", err,
			)
			continue
		}

		page, err := e.finishPage(img, len(pages), pageNum)
		if err != nil {
			e.logger.Warn("page_encode_failed",
				"path", sourcePath,
				"page", pageNum,
				"error", err,
			)
			continue
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// recoverPageImage pulls the largest decodable image XObject off one page.
func recoverPageImage(reader *pdf.Reader, pageNum int) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("pdf reader panic on page %d: %v", pageNum, r)
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return nil, fmt.Errorf("page %d missing", pageNum)
	}

	xobjects := page.V.Key("Resources").Key("XObject")
	if xobjects.Kind() != pdf.Dict {
		return nil, fmt.Errorf("page %d has no image resources", pageNum)
	}

	var best image.Image
	var bestPixels int
	for _, name := range xobjects.Keys() {
		obj := xobjects.Key(name)
		if obj.Kind() != pdf.Stream {
			continue
		}
		if obj.Key("Subtype").Name() != "Image" {
			continue
		}

		data, readErr := io.ReadAll(obj.Reader())
		if readErr != nil {
			continue
		}
		decoded, _, decodeErr := image.Decode(bytes.NewReader(data))
		if decodeErr != nil {
			continue
		}
		bounds := decoded.Bounds()
		if pixels := bounds.Dx() * bounds.Dy(); pixels > bestPixels {
			best, bestPixels = decoded, pixels
		}
	}

	if best == nil {
		return nil, fmt.Errorf("no decodable image on page %d", pageNum)
	}
	return best, nil
}
