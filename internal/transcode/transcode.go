// Package transcode prepares source images for providers: it sniffs the format,
// downsizes images whose long edge exceeds the requested resolution and
// re-encodes them at the requested quality. WebP input is decoded but
// re-encoded as PNG when it has to be resized.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned for input that is not an image.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// JPEG qualities per output quality level.
const (
	standardJPEGQuality = 85
	highJPEGQuality     = 95
)

// Options selects the output size and quality.
type Options struct {
	// Resolution is the maximum long edge in pixels. Zero keeps the size.
	Resolution int
	// Quality is domain.QualityStandard or domain.QualityHigh.
	Quality string
}

// Output is a transcoded image.
type Output struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Transcoder is the default image transcoder.
type Transcoder struct{}

// New creates a Transcoder.
func New() *Transcoder {
	return &Transcoder{}
}

// decodable lists the formats Transcode can resize.
var decodable = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Transcode returns data fitted within opts.Resolution. Images that already fit
// and image formats without a registered decoder are returned unchanged.
func (t *Transcoder) Transcode(ctx context.Context, data []byte, opts Options) (Output, error) {
	if len(data) == 0 {
		return Output{}, fmt.Errorf("%w: empty input", ErrUnsupportedFormat)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), decodable...) {
		if isImage(mt) {
			return Output{Data: data, MIME: mt.String()}, nil
		}
		return Output{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Output{}, fmt.Errorf("failed to read image header: %w", err)
	}
	width, height := fit(cfg.Width, cfg.Height, opts.Resolution)
	if width == cfg.Width && height == cfg.Height && !mt.Is("image/gif") {
		return Output{Data: data, MIME: mt.String(), Width: width, Height: height}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Output{}, fmt.Errorf("failed to decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	dst := resize(src, width, height)

	var buf bytes.Buffer
	out := Output{Width: width, Height: height}
	if mt.Is("image/jpeg") {
		quality := standardJPEGQuality
		if opts.Quality == domain.QualityHigh {
			quality = highJPEGQuality
		}
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
			return Output{}, fmt.Errorf("failed to encode jpeg: %w", err)
		}
		out.MIME = "image/jpeg"
	} else {
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if opts.Quality == domain.QualityHigh {
			enc.CompressionLevel = png.BestCompression
		}
		if err := enc.Encode(&buf, dst); err != nil {
			return Output{}, fmt.Errorf("failed to encode png: %w", err)
		}
		out.MIME = "image/png"
	}
	out.Data = buf.Bytes()
	return out, nil
}

func isImage(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return true
		}
	}
	return false
}

// fit scales (w, h) so the long edge is at most limit, keeping the aspect ratio.
func fit(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		nh := h * limit / w
		if nh < 1 {
			nh = 1
		}
		return limit, nh
	}
	nw := w * limit / h
	if nw < 1 {
		nw = 1
	}
	return nw, limit
}

// resize scales src to w x h with Catmull-Rom resampling.
func resize(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
