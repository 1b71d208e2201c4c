package uploads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"llmchat/internal/logging"
)

const (
	MaxFiles     = 5
	MaxFileBytes = 10 << 20 // 10 MB

	DefaultTTL           = time.Hour
	DefaultSweepInterval = 30 * time.Minute
)

var (
	ErrTooManyFiles    = fmt.Errorf("at most %d files per upload", MaxFiles)
	ErrNoFiles         = errors.New("at least one file is required")
	ErrFileTooLarge    = fmt.Errorf("files must be at most %d bytes", MaxFileBytes)
	ErrUnsupportedType = errors.New("unsupported file type")
)

// allowedTypes maps accepted extensions to the MIME type recorded for them.
var allowedTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
}

// Files manages upload bytes on disk: pending/<owner>/ until consumed, then
// attachments/<owner>/.
type Files struct {
	base   string
	ttl    time.Duration
	logger zerolog.Logger
}

func NewFiles(base string, ttl time.Duration) *Files {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Files{base: base, ttl: ttl, logger: logging.Component("uploads")}
}

// ValidateBatch checks count and per-file size before any bytes are written.
func ValidateBatch(headers []*multipart.FileHeader) error {
	if len(headers) == 0 {
		return ErrNoFiles
	}
	if len(headers) > MaxFiles {
		return ErrTooManyFiles
	}
	for _, h := range headers {
		if h.Size > MaxFileBytes {
			return fmt.Errorf("%s: %w", h.Filename, ErrFileTooLarge)
		}
		if _, ok := allowedTypes[strings.ToLower(filepath.Ext(h.Filename))]; !ok {
			return fmt.Errorf("%s: %w", h.Filename, ErrUnsupportedType)
		}
	}
	return nil
}

// DetectType sniffs head and returns the MIME type to record for a file with
// the given name, or ErrUnsupportedType when the content does not match the
// extension.
func DetectType(filename string, head []byte) (string, error) {
	want, ok := allowedTypes[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return "", ErrUnsupportedType
	}
	detected := mimetype.Detect(head)
	switch {
	case strings.HasPrefix(want, "text/"):
		if !strings.HasPrefix(detected.String(), "text/") {
			return "", ErrUnsupportedType
		}
	case !detected.Is(want):
		return "", ErrUnsupportedType
	}
	return want, nil
}

// Save writes an uploaded file under pending/<owner>/ and describes it.
func (f *Files) Save(ownerID int64, h *multipart.FileHeader) (*Pending, error) {
	src, err := h.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	head := make([]byte, 3072)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	mimeType, err := DetectType(h.Filename, head)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.Filename, err)
	}

	dir := filepath.Join(f.base, "pending", strconv.FormatInt(ownerID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	dest := filepath.Join(dir, newToken()+strings.ToLower(filepath.Ext(h.Filename)))
	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	size, err := io.Copy(out, io.MultiReader(bytes.NewReader(head), src))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return nil, fmt.Errorf("save file: %w", err)
	}
	return &Pending{
		OwnerID:     ownerID,
		Filename:    filepath.Base(h.Filename),
		StoragePath: dest,
		MimeType:    mimeType,
		Size:        size,
	}, nil
}

// Promote moves a consumed pending file into attachments/<owner>/ and returns
// its new path.
func (f *Files) Promote(p *Pending) (string, error) {
	dir := filepath.Join(f.base, "attachments", strconv.FormatInt(p.OwnerID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(p.StoragePath))
	if err := os.Rename(p.StoragePath, dest); err != nil {
		return "", fmt.Errorf("promote upload: %w", err)
	}
	return dest, nil
}

// Remove deletes files, ignoring ones already gone.
func (f *Files) Remove(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			f.logger.Warn().Err(err).Str("path", p).Msg("remove attachment file")
		}
	}
}

// Sweep removes pending files older than the upload TTL.
func (f *Files) Sweep() (int, error) {
	root := filepath.Join(f.base, "pending")
	cutoff := time.Now().Add(-f.ttl)
	removed := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				f.logger.Warn().Err(err).Str("path", path).Msg("remove stale upload")
				return nil
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Run sweeps on every tick until ctx is done.
func (f *Files) Run(ctx context.Context, interval time.Duration, expire func()) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if expire != nil {
				expire()
			}
			n, err := f.Sweep()
			if err != nil {
				f.logger.Error().Err(err).Msg("sweep pending uploads")
				continue
			}
			if n > 0 {
				f.logger.Info().Int("removed", n).Msg("swept pending uploads")
			}
		}
	}
}
