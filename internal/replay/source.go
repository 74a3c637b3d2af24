// Package replay drives the live decision pipeline from recorded market
// data and reports performance statistics.
package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

var dataExtensions = map[string]bool{
	".jsonl":  true,
	".ndjson": true,
	".json":   true,
}

func isDataFile(name string) bool {
	return dataExtensions[strings.ToLower(path.Ext(name))]
}

// Source lists and opens recorded data files. Files are replayed in the
// order List returns them.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DirSource reads data files from a local directory, sorted by name.
type DirSource struct {
	Dir string
}

func (s DirSource) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("replay: list %s: %w", s.Dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isDataFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(s.Dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (s DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", name, err)
	}
	return f, nil
}

// BlobSource reads data files under a prefix of an object store, sorted by
// key.
type BlobSource struct {
	Reader domain.BlobReader
	Prefix string
}

func (s BlobSource) List(ctx context.Context) ([]string, error) {
	infos, err := s.Reader.List(ctx, s.Prefix)
	if err != nil {
		return nil, fmt.Errorf("replay: list %s: %w", s.Prefix, err)
	}
	var keys []string
	for _, info := range infos {
		if isDataFile(info.Path) {
			keys = append(keys, info.Path)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s BlobSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.Reader.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("replay: get %s: %w", name, err)
	}
	return rc, nil
}
