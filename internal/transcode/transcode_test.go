package transcode

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestTranscode(t *testing.T) {
	tr := New()
	ctx := context.Background()

	t.Run("fits unchanged", func(t *testing.T) {
		data := encodePNG(t, 64, 32)
		out, err := tr.Transcode(ctx, data, Options{Resolution: 256})
		require.NoError(t, err)
		assert.Equal(t, data, out.Data)
		assert.Equal(t, "image/png", out.MIME)
		assert.Equal(t, 64, out.Width)
	})

	t.Run("downsizes png keeping aspect", func(t *testing.T) {
		out, err := tr.Transcode(ctx, encodePNG(t, 400, 200), Options{Resolution: 100})
		require.NoError(t, err)
		assert.Equal(t, "image/png", out.MIME)
		cfg, err := png.DecodeConfig(bytes.NewReader(out.Data))
		require.NoError(t, err)
		assert.Equal(t, 100, cfg.Width)
		assert.Equal(t, 50, cfg.Height)
	})

	t.Run("downsizes portrait jpeg", func(t *testing.T) {
		out, err := tr.Transcode(ctx, encodeJPEG(t, 300, 600), Options{Resolution: 300, Quality: "high"})
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", out.MIME)
		assert.Equal(t, 150, out.Width)
		assert.Equal(t, 300, out.Height)
	})

	t.Run("decodes webp header", func(t *testing.T) {
		// 1x1 lossless WebP.
		data, err := base64.StdEncoding.DecodeString("UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA==")
		require.NoError(t, err)
		out, err := tr.Transcode(ctx, data, Options{Resolution: 256})
		require.NoError(t, err)
		assert.Equal(t, data, out.Data)
		assert.Equal(t, "image/webp", out.MIME)
		assert.Equal(t, 1, out.Width)
		assert.Equal(t, 1, out.Height)
	})

	t.Run("resampling keeps flat colour", func(t *testing.T) {
		src := image.NewRGBA(image.Rect(0, 0, 90, 30))
		fill := color.RGBA{R: 200, G: 100, B: 50, A: 255}
		for y := 0; y < 30; y++ {
			for x := 0; x < 90; x++ {
				src.Set(x, y, fill)
			}
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, src))

		out, err := tr.Transcode(ctx, buf.Bytes(), Options{Resolution: 30})
		require.NoError(t, err)
		img, err := png.Decode(bytes.NewReader(out.Data))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 30, 10), img.Bounds())
		r, g, b, a := img.At(15, 5).RGBA()
		assert.InDelta(t, 200, r>>8, 1)
		assert.InDelta(t, 100, g>>8, 1)
		assert.InDelta(t, 50, b>>8, 1)
		assert.InDelta(t, 255, a>>8, 1)
	})

	t.Run("rejects non-image", func(t *testing.T) {
		_, err := tr.Transcode(ctx, []byte("just some text"), Options{})
		assert.ErrorIs(t, err, ErrUnsupportedFormat)

		_, err = tr.Transcode(ctx, nil, Options{})
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := tr.Transcode(cctx, encodePNG(t, 8, 8), Options{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFit(t *testing.T) {
	w, h := fit(4000, 3000, 1024)
	assert.Equal(t, 1024, w)
	assert.Equal(t, 768, h)

	w, h = fit(10, 5000, 100)
	assert.Equal(t, 1, w)
	assert.Equal(t, 100, h)

	w, h = fit(800, 600, 0)
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
}
