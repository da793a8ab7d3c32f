package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// ImageDocument is a single decoded image.
type ImageDocument struct {
	img    image.Image
	format string
}

// OpenImage decodes a raster image (png, jpeg, gif, webp, bmp or tiff).
func OpenImage(data []byte) (*ImageDocument, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.RenderError("Failed to decode image", err)
	}
	if img.Bounds().Empty() {
		return nil, domain.RenderError("image has no pixels", nil)
	}
	return &ImageDocument{img: img, format: format}, nil
}

// PageCount is always 1.
func (d *ImageDocument) PageCount() int { return 1 }

// Format returns the decoder name, for example "png".
func (d *ImageDocument) Format() string { return d.format }

// RenderPage returns the image scaled by zoom percent.
func (d *ImageDocument) RenderPage(ctx context.Context, page, zoom int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page != 1 {
		return nil, domain.RenderError(fmt.Sprintf("page %d out of range 1-1", page), nil)
	}
	if zoom <= 0 {
		return nil, domain.RenderError(fmt.Sprintf("invalid zoom %d", zoom), nil)
	}
	return Scale(d.img, zoom), nil
}

// Close is a no-op.
func (d *ImageDocument) Close() error { return nil }

// Scale resamples img by zoom percent.
func Scale(img image.Image, zoom int) image.Image {
	b := img.Bounds()
	if zoom == 100 {
		return img
	}
	w := max(1, b.Dx()*zoom/100)
	h := max(1, b.Dy()*zoom/100)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
