package fs

import (
	"bytes"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// Walker lists the files under a root that match the include globs and none
// of the exclude globs. Patterns are matched against slash-separated paths
// relative to the root.
type Walker struct {
	includes []string
	excludes []string
	maxSize  int64
}

var _ port.FileWalker = (*Walker)(nil)

func NewWalker(includes, excludes []string, maxSize int64) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
		maxSize:  maxSize,
	}
}

func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	var files []port.FileInfo

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	err = filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath != "." && w.shouldExclude(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !w.shouldInclude(relPath) || w.shouldExclude(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if w.maxSize > 0 && info.Size() > w.maxSize {
			return nil
		}

		files = append(files, port.FileInfo{
			Path:    path,
			RelPath: relPath,
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		})
		return nil
	})

	return files, err
}

func (w *Walker) shouldInclude(path string) bool {
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// TextReader reads plain-text files. Anything that looks binary is refused,
// since extracting text from binary formats happens upstream.
type TextReader struct{}

var _ port.FileReader = TextReader{}

func (TextReader) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return "", domain.NewError(domain.ErrInvalidInput, fmt.Sprintf("%s is not plain UTF-8 text", path), nil)
	}
	return string(data), nil
}
