package ioutils

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoder registration
	"os"

	"golang.org/x/image/draw"
)

// PageNormalizer re-encodes staged page images so the artifact builder
// always receives JPEG input.
//
// Sources do not agree on formats: shpl serves JPEG zoom levels directly
// while tiled sources may yield PNG. Normalize converts anything the
// image decoders understand into JPEG, optionally capping dimensions.
//
// Example:
//
//	n := &ioutils.PageNormalizer{Quality: 90, MaxSize: 2400}
//	changed, err := n.Normalize(stagedPath)
type PageNormalizer struct {
	// Quality is the JPEG encoding quality used when re-encoding.
	Quality int

	// MaxSize caps the longer image dimension in pixels. Zero keeps the
	// original size.
	MaxSize int
}

// Normalize rewrites the file at path as JPEG if it is not one already,
// scaling it down when it exceeds MaxSize. The rewrite is atomic.
// It reports whether the file was changed.
func (n *PageNormalizer) Normalize(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return false, err
	}

	bounds := img.Bounds()
	needsResize := n.MaxSize > 0 && (bounds.Dx() > n.MaxSize || bounds.Dy() > n.MaxSize)
	if format == "jpeg" && !needsResize {
		return false, nil
	}

	if needsResize {
		img = n.scale(img)
	}

	var buf bytes.Buffer
	quality := n.Quality
	if quality <= 0 {
		quality = 90
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return false, err
	}

	if err := WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return false, err
	}
	return true, nil
}

// scale shrinks img to fit MaxSize, preserving aspect ratio. Catmull-Rom
// keeps scanned text legible at smaller sizes.
func (n *PageNormalizer) scale(img image.Image) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	ratio := float64(width) / float64(height)
	if width >= height {
		width = n.MaxSize
		height = int(float64(n.MaxSize) / ratio)
	} else {
		height = n.MaxSize
		width = int(float64(n.MaxSize) * ratio)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
