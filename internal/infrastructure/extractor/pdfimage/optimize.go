package pdfimage

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	jpegQuality    = 85
	minJpegQuality = 40
)

// optimize bounds a page image for transmission: fit within maxDimension on
// both axes, then JPEG-encode, stepping quality down until the result is
// under maxPageBytes. Legibility of text is the priority, so quality never
// drops below minJpegQuality; instead the image is halved and re-encoded.
func optimize(img image.Image) ([]byte, error) {
	img = fitWithin(img, maxDimension)

	for {
		quality := jpegQuality
		var data []byte
		for {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
				return nil, fmt.Errorf("encode jpeg: %w", err)
			}
			data = buf.Bytes()
			if len(data) <= maxPageBytes || quality <= minJpegQuality {
				break
			}
			quality -= 15
		}
		if len(data) <= maxPageBytes {
			return data, nil
		}

		bounds := img.Bounds()
		if bounds.Dx() <= 256 || bounds.Dy() <= 256 {
			// Small and still over budget; ship it rather than degrade
			// further into illegibility.
			return data, nil
		}
		img = scaleTo(img, bounds.Dx()/2, bounds.Dy()/2)
	}
}

func fitWithin(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	scale := float64(maxDim) / float64(w)
	if hs := float64(maxDim) / float64(h); hs < scale {
		scale = hs
	}
	return scaleTo(img, int(float64(w)*scale), int(float64(h)*scale))
}

func scaleTo(img image.Image, w, h int) image.Image {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
