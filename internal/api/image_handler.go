package api

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/lin-1259/ai-xiutu/internal/api/shared"
	"github.com/lin-1259/ai-xiutu/internal/platform/logger"
	"github.com/lin-1259/ai-xiutu/internal/storage"
)

// MaxImageUploadBytes limits the size of an uploaded source image.
const MaxImageUploadBytes = 50 << 20

// ImageHandler stages uploaded images so jobs can reference them by id.
type ImageHandler struct {
	images ImageStager
	logger *slog.Logger
}

// NewImageHandler creates a new ImageHandler
func NewImageHandler(images ImageStager, logger *slog.Logger) *ImageHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ImageHandler")
	}
	return &ImageHandler{
		images: images,
		logger: logger.With(slog.String("component", "image_handler")),
	}
}

// UploadImage handles POST /api/images requests. The body is either the raw
// image bytes or a multipart form with a "file" field.
func (h *ImageHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r)
	if err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Debug("failed to read upload", "error", err)
		if errors.Is(err, errUploadTooLarge) {
			shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Image too large")
			return
		}
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid image upload")
		return
	}
	if len(data) == 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Image data is required")
		return
	}

	ref, err := h.images.Stage(r.Context(), data)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to stage image")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, ImageResponse{
		ImageID:     ref.ID,
		ContentHash: storage.ContentHash(data),
		MIME:        ref.MIME,
		Size:        ref.Size,
		StagedAt:    ref.StagedAt,
	})
}

var errUploadTooLarge = errors.New("upload exceeds size limit")

func readUpload(r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(nil, r.Body, MaxImageUploadBytes+(1<<20))
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = body
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, asTooLarge(err)
		}
		defer file.Close()
		return readLimited(file)
	}
	return readLimited(body)
}

func readLimited(src io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(src, MaxImageUploadBytes+1))
	if err != nil {
		return nil, asTooLarge(err)
	}
	if n > MaxImageUploadBytes {
		return nil, errUploadTooLarge
	}
	return buf.Bytes(), nil
}

func asTooLarge(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return errUploadTooLarge
	}
	return err
}
