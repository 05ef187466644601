// Package artifact owns the on-disk layout for uploaded originals and
// stylized results, plus the validation applied to incoming uploads.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stylizer/pkg/models"
)

// ErrValidation wraps every upload rejection so the API can map it to 400.
var ErrValidation = errors.New("invalid upload")

var (
	ErrMissingFile     = fmt.Errorf("%w: no image uploaded", ErrValidation)
	ErrUnsupportedType = fmt.Errorf("%w: only JPEG and PNG images are allowed", ErrValidation)
	ErrTooLarge        = fmt.Errorf("%w: image exceeds the size limit", ErrValidation)
)

const sniffLen = 512

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

const (
	OriginalURLPrefix  = "/uploads/original/"
	ProcessedURLPrefix = "/uploads/processed/"
)

// Upload is a file received from a client, before it is stored.
type Upload struct {
	FileName string
	Size     int64
	Content  io.Reader
}

// Validate checks the declared size and sniffs the content type from the
// first bytes. On success Content is rewound so the caller can store the
// full file. The detected content type is returned.
func Validate(u *Upload, maxBytes int64) (string, error) {
	if u == nil || u.Content == nil {
		return "", ErrMissingFile
	}
	if maxBytes > 0 && u.Size > maxBytes {
		return "", fmt.Errorf("%w (%d > %d bytes)", ErrTooLarge, u.Size, maxBytes)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(u.Content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if n == 0 {
		return "", ErrMissingFile
	}
	head = head[:n]

	contentType := http.DetectContentType(head)
	if !allowedTypes[contentType] {
		return "", fmt.Errorf("%w (got %s)", ErrUnsupportedType, contentType)
	}

	u.Content = io.MultiReader(bytes.NewReader(head), u.Content)
	return contentType, nil
}

// Layout resolves artifact locations under a single root directory.
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) OriginalDir() string  { return filepath.Join(l.Root, "original") }
func (l Layout) ProcessedDir() string { return filepath.Join(l.Root, "processed") }

// EnsureDirs creates the original and processed directories if missing.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.OriginalDir(), l.ProcessedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// SaveOriginal writes content under a unique name derived from fileName and
// returns the stored path. A partially written file is removed on failure.
func (l Layout) SaveOriginal(fileName string, content io.Reader, maxBytes int64) (string, error) {
	path := filepath.Join(l.OriginalDir(), uuid.NewString()+"-"+SanitizeName(fileName))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create original: %w", err)
	}

	src := content
	if maxBytes > 0 {
		src = io.LimitReader(content, maxBytes+1)
	}
	written, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && maxBytes > 0 && written > maxBytes {
		err = fmt.Errorf("%w (more than %d bytes)", ErrTooLarge, maxBytes)
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrValidation) {
			return "", err
		}
		return "", fmt.Errorf("write original: %w", err)
	}
	return path, nil
}

// ProcessedPath is the destination for a job's result. It embeds the job id,
// so two jobs never share a destination even with identical file names.
func (l Layout) ProcessedPath(job *models.Job) string {
	name := "processed_" + strconv.FormatInt(job.ID, 10) + "_" + SanitizeName(job.OriginalFileName)
	return filepath.Join(l.ProcessedDir(), name)
}

// OriginalURL maps a stored original path to its public URL.
func OriginalURL(path string) string {
	return OriginalURLPrefix + filepath.Base(path)
}

// ProcessedURL maps a stored result path to its public URL.
func ProcessedURL(path string) string {
	return ProcessedURLPrefix + filepath.Base(path)
}

// Remove deletes the given files, ignoring empty paths and files already gone.
func Remove(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SanitizeName reduces a client supplied file name to a safe base name.
func SanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "image"
	}
	return out
}

// WriteAtomic streams r into path through a temp file in the same directory,
// so readers never observe a partially written artifact.
func WriteAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
