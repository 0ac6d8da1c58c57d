package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"golang.org/x/crypto/blake2b"
)

// ErrUnsupportedImage is returned when staged bytes are not a recognized image.
var ErrUnsupportedImage = errors.New("unsupported image format")

const imagesPrefix = "images/"

// ImageStore is the staging area for source images. Images are addressed by
// an opaque id assigned when they are staged.
type ImageStore struct {
	files *FileStore
	now   func() time.Time
}

// NewImageStore creates a staging area rooted at dir.
func NewImageStore(dir string) (*ImageStore, error) {
	fs, err := NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	return &ImageStore{files: fs, now: time.Now}, nil
}

// Stage stores data under a new image id.
func (s *ImageStore) Stage(ctx context.Context, data []byte) (domain.ImageRef, error) {
	if len(data) == 0 {
		return domain.ImageRef{}, fmt.Errorf("%w: %v: empty upload", domain.ErrValidation, ErrUnsupportedImage)
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return domain.ImageRef{}, fmt.Errorf("%w: %v: %s", domain.ErrValidation, ErrUnsupportedImage, mime.String())
	}

	id := uuid.NewString()
	if _, err := s.files.Write(ctx, imagesPrefix+id, data); err != nil {
		return domain.ImageRef{}, fmt.Errorf("failed to stage image: %w", err)
	}
	return domain.ImageRef{
		ID:       id,
		MIME:     mime.String(),
		Size:     int64(len(data)),
		StagedAt: s.now().UTC(),
	}, nil
}

// Read returns the bytes of a staged image.
func (s *ImageStore) Read(ctx context.Context, id string) ([]byte, error) {
	if err := validImageID(id); err != nil {
		return nil, err
	}
	data, err := s.files.Read(ctx, imagesPrefix+id)
	if errors.Is(err, ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrImageNotFound, id)
	}
	return data, err
}

// Exists reports whether id refers to a staged image.
func (s *ImageStore) Exists(id string) bool {
	if validImageID(id) != nil {
		return false
	}
	return s.files.Exists(imagesPrefix + id)
}

// Delete removes a staged image.
func (s *ImageStore) Delete(id string) error {
	if err := validImageID(id); err != nil {
		return err
	}
	return s.files.Delete(imagesPrefix + id)
}

func validImageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrImageNotFound, id)
	}
	return nil
}

// ContentHash returns the hex blake2b-256 digest of data.
func ContentHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
