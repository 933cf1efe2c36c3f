package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"watchcompanion/internal/domain/ports"
)

// FileSaver writes finished downloads into a directory, never overwriting an
// existing file.
type FileSaver struct {
	Dir string
}

var _ ports.Saver = (*FileSaver)(nil)

func NewFileSaver(dir string) *FileSaver {
	return &FileSaver{Dir: dir}
}

func (s *FileSaver) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := strings.TrimSpace(s.Dir)
	if dir == "" {
		return "", errors.New("download dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	base := filepath.Base(filepath.Clean(filename))
	if base == "." || base == string(os.PathSeparator) {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 0; i < 1000; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		target := filepath.Join(dir, name)
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			_ = os.Remove(target)
			return "", err
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(target)
			return "", err
		}
		return target, nil
	}
	return "", fmt.Errorf("no free filename for %q", base)
}
