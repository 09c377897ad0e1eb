package handle

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"mistakepatch/api/internal/util"
)

var allowedMime = map[string]string{
	"image/jpeg": "image/jpeg",
	"image/jpg":  "image/jpeg",
	"image/png":  "image/png",
	"image/webp": "image/webp",
}

var errTooLarge = errors.New("file too large")

// Uploads stores accepted images under Dir.
type Uploads struct {
	Dir      string
	MaxBytes int64
}

// checkMime accepts the declared content type of a multipart part.
func checkMime(fh *multipart.FileHeader) (string, error) {
	declared := strings.ToLower(strings.TrimSpace(fh.Header.Get("Content-Type")))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	mime, ok := allowedMime[declared]
	if !ok {
		return "", fmt.Errorf("unsupported file type: %s, allowed: jpeg/png/webp", declared)
	}
	return mime, nil
}

// Save writes the part to a fresh file and returns its absolute path.
func (u *Uploads) Save(fh *multipart.FileHeader, mime string) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, u.MaxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > u.MaxBytes {
		return "", errTooLarge
	}

	if err := os.MkdirAll(u.Dir, 0o755); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		ext = util.ExtForMime(mime)
	}
	path := filepath.Join(u.Dir, strings.TrimPrefix(util.NewID("u"), "u_")+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

func (u *Uploads) Remove(paths ...string) {
	for _, p := range paths {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}

// URL maps a stored path onto the /uploads/ route.
func URL(path string) string {
	if path == "" {
		return ""
	}
	return "/uploads/" + filepath.Base(path)
}
