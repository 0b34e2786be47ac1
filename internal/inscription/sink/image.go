package sink

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/model"
)

// extensionByType maps the image subtypes seen on chain to file extensions.
// mime.ExtensionsByType is avoided because its answers vary by host OS.
var extensionByType = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/avif":    ".avif",
	"image/svg+xml": ".svg",
}

// ImageSink writes image inscriptions as individual files named by
// inscription ID under a single directory.
type ImageSink struct {
	logger *zap.Logger
	dir    string
}

// NewImageSink creates the target directory if needed.
func NewImageSink(logger *zap.Logger, dir string) (*ImageSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image sink dir: %w", err)
	}
	return &ImageSink{logger: logger, dir: dir}, nil
}

// Emit writes the payload to <dir>/<id><ext>. An existing file is left
// untouched so replayed blocks do not rewrite identical content.
func (s *ImageSink) Emit(_ context.Context, ins model.Inscription) error {
	path := filepath.Join(s.dir, ins.ID.String()+extensionFor(string(ins.ContentType)))

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, ins.Payload, 0o644); err != nil {
		return fmt.Errorf("write image inscription %s: %w", ins.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize image inscription %s: %w", ins.ID, err)
	}

	s.logger.Debug("stored image inscription",
		zap.String("id", ins.ID.String()),
		zap.String("path", path),
		zap.Int("bytes", len(ins.Payload)),
	)
	return nil
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if ext, ok := extensionByType[mediaType]; ok {
		return ext
	}
	return ".bin"
}
