package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/multierr"
)

// partSuffix marks an output file that is still being written.
const partSuffix = ".part"

// OutputName returns the file name of a job output: the source base name,
// an underscore, the template id and an extension derived from data.
func OutputName(sourceName, templateID string, data []byte) string {
	return outputBase(sourceName, templateID) + DetectExtension(data)
}

// DetectExtension returns the file extension of the image in data, or .png
// when the format is not recognized.
func DetectExtension(data []byte) string {
	mime := mimetype.Detect(data)
	ext := mime.Extension()
	if ext == "" || !strings.HasPrefix(mime.String(), "image/") {
		return ".png"
	}
	if ext == ".jpeg" {
		return ".jpg"
	}
	return ext
}

// DetectMIME returns the MIME type of data.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

func outputBase(sourceName, templateID string) string {
	base := filepath.Base(strings.ReplaceAll(sourceName, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, base)
	if base == "" || base == "." {
		base = "image"
	}
	return base + "_" + templateID
}

// maxOutputSuffix bounds the _N suffixes tried when reserving an output name.
const maxOutputSuffix = 10000

// StalePartAge is how old a .part file must be before RemoveStaleParts treats
// it as left over from an aborted attempt.
const StalePartAge = time.Minute

// WriteOutput writes data into dir under its output name. An existing file is
// never replaced: the first free name among base.ext, base_1.ext, base_2.ext
// and so on is reserved with an exclusive create. The bytes land in a .part
// file first and are renamed over the reservation once complete. It returns
// the final path.
func WriteOutput(ctx context.Context, dir, sourceName, templateID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure output directory: %w", err)
	}
	final, err := reserveOutput(dir, outputBase(sourceName, templateID), DetectExtension(data))
	if err != nil {
		return "", err
	}
	part := final + partSuffix
	if err := os.WriteFile(part, data, 0o644); err != nil {
		_ = os.Remove(part)
		_ = os.Remove(final)
		return "", fmt.Errorf("storage: write output: %w", err)
	}
	if err := os.Rename(part, final); err != nil {
		_ = os.Remove(part)
		_ = os.Remove(final)
		return "", fmt.Errorf("storage: finalize output: %w", err)
	}
	return final, nil
}

// reserveOutput creates an empty file under the first unused output name.
func reserveOutput(dir, base, ext string) (string, error) {
	for n := 0; n < maxOutputSuffix; n++ {
		name := base + ext
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", base, n, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("storage: reserve output: %w", err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("storage: reserve output: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("storage: no free output name for %s%s in %s", base, ext, dir)
}

// isOutputPart reports whether name is a .part file of an output with the
// given base, with or without an _N suffix.
func isOutputPart(name, base string) bool {
	if !strings.HasPrefix(name, base) || !strings.HasSuffix(name, partSuffix) {
		return false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, base), partSuffix)
	if strings.HasPrefix(rest, "_") {
		digits := strings.TrimLeft(rest[1:], "0123456789")
		if len(digits) == len(rest)-1 {
			return false
		}
		rest = digits
	}
	return strings.HasPrefix(rest, ".") && !strings.Contains(rest[1:], ".")
}

// RemoveStaleParts deletes leftover .part files for a job's output that were
// last modified before cutoff, together with the empty reservation next to
// each. Newer parts may belong to a write in progress and are kept.
func RemoveStaleParts(dir, sourceName, templateID string, cutoff time.Time) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: list output directory: %w", err)
	}
	base := outputBase(sourceName, templateID)
	var errs error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isOutputPart(name, base) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = multierr.Append(errs, err)
			continue
		}
		reserved := strings.TrimSuffix(path, partSuffix)
		if fi, err := os.Stat(reserved); err == nil && fi.Size() == 0 {
			if err := os.Remove(reserved); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}
