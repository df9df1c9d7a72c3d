package pdf

import (
	"bufio"
	"context"
	"fmt"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
)

// Builder assembles JPEG page images into a PDF document, one page per
// image, without re-encoding.
//
// JPEG data is embedded directly as DCTDecode image objects, the same
// way lossless image-to-PDF converters work, so the artifact holds the
// exact bytes that were staged. Each page's media box matches the
// image's pixel dimensions.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build writes the document for imagePaths (ordered by page) to
// destPath. The write is atomic: destPath appears only once the whole
// document is on disk.
func (b *Builder) Build(ctx context.Context, imagePaths []string, destPath string) error {
	if len(imagePaths) == 0 {
		return fmt.Errorf("no page images to assemble")
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".artifact-*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	bw := bufio.NewWriter(tmp)
	w := newOffsetWriter(bw)
	if err := b.write(ctx, w, imagePaths); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), destPath)
}

// Object layout: 1 catalog, 2 page tree, then three objects per page
// (page, content stream, image).
func pageObjects(page int) (pageObj, contentObj, imageObj int) {
	return 3 + 3*page, 4 + 3*page, 5 + 3*page
}

func (b *Builder) write(ctx context.Context, w *offsetWriter, imagePaths []string) error {
	offsets := make(map[int]int64)

	fmt.Fprintf(w, "%%PDF-1.4\n%%\xe2\xe3\xcf\xd3\n")

	offsets[1] = w.off
	fmt.Fprintf(w, "1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = w.off
	fmt.Fprintf(w, "2 0 obj\n<< /Type /Pages /Count %d /Kids [", len(imagePaths))
	for i := range imagePaths {
		pageObj, _, _ := pageObjects(i)
		fmt.Fprintf(w, " %d 0 R", pageObj)
	}
	fmt.Fprintf(w, " ] >>\nendobj\n")

	for i, path := range imagePaths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.writePage(w, offsets, i, path); err != nil {
			return fmt.Errorf("page %d (%s): %w", i, filepath.Base(path), err)
		}
	}

	maxObj := 2 + 3*len(imagePaths)
	xrefOff := w.off
	fmt.Fprintf(w, "xref\n0 %d\n", maxObj+1)
	fmt.Fprintf(w, "0000000000 65535 f \n")
	for obj := 1; obj <= maxObj; obj++ {
		fmt.Fprintf(w, "%010d 00000 n \n", offsets[obj])
	}
	fmt.Fprintf(w, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", maxObj+1, xrefOff)
	return w.err
}

func (b *Builder) writePage(w *offsetWriter, offsets map[int]int64, page int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("not a usable JPEG: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	colorSpace := "/DeviceRGB"
	switch cfg.ColorModel {
	case color.GrayModel:
		colorSpace = "/DeviceGray"
	case color.CMYKModel:
		colorSpace = "/DeviceCMYK"
	}

	pageObj, contentObj, imageObj := pageObjects(page)

	offsets[pageObj] = w.off
	fmt.Fprintf(w, "%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] "+
		"/Contents %d 0 R /Resources << /XObject << /Im0 %d 0 R >> >> >>\nendobj\n",
		pageObj, cfg.Width, cfg.Height, contentObj, imageObj)

	content := fmt.Sprintf("q\n%d 0 0 %d 0 0 cm\n/Im0 Do\nQ\n", cfg.Width, cfg.Height)
	offsets[contentObj] = w.off
	fmt.Fprintf(w, "%d 0 obj\n<< /Length %d >>\nstream\n%sendstream\nendobj\n",
		contentObj, len(content), content)

	offsets[imageObj] = w.off
	fmt.Fprintf(w, "%d 0 obj\n<< /Type /XObject /Subtype /Image /Width %d /Height %d "+
		"/ColorSpace %s /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>\nstream\n",
		imageObj, cfg.Width, cfg.Height, colorSpace, info.Size())
	if _, err := io.Copy(w, f); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nendstream\nendobj\n")
	return w.err
}

// offsetWriter tracks the byte offset of everything written, which the
// cross-reference table needs, and latches the first write error so the
// writing code stays linear.
type offsetWriter struct {
	w   io.Writer
	off int64
	err error
}

func newOffsetWriter(w io.Writer) *offsetWriter {
	return &offsetWriter{w: w}
}

func (o *offsetWriter) Write(p []byte) (int, error) {
	if o.err != nil {
		return 0, o.err
	}
	n, err := o.w.Write(p)
	o.off += int64(n)
	o.err = err
	return n, err
}
