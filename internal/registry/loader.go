package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"diffusiond/internal/common/fsutil"
	"diffusiond/pkg/types"
)

// adapterExts are the file extensions recognized as LoRA weights.
var adapterExts = []string{".safetensors", ".bin", ".pt"}

func isAdapterFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range adapterExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// AdapterScanner discovers LoRA adapter files in a directory.
type AdapterScanner struct{}

func NewAdapterScanner() AdapterScanner { return AdapterScanner{} }

// Scan lists adapter files directly inside dir, sorted by name. The ID is the
// file name; Path is absolute.
func (AdapterScanner) Scan(dir string) ([]types.Adapter, error) {
	abs, err := fsutil.AbsDir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []types.Adapter
	for _, e := range entries {
		if e.IsDir() || !isAdapterFile(e.Name()) {
			continue
		}
		a := types.Adapter{ID: e.Name(), Object: "adapter", Path: filepath.Join(abs, e.Name())}
		if info, err := e.Info(); err == nil {
			a.SizeBytes = info.Size()
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadDir is a convenience wrapper around AdapterScanner.Scan.
func LoadDir(dir string) ([]types.Adapter, error) {
	return NewAdapterScanner().Scan(dir)
}

// Catalog resolves adapter names against a directory. A zero Catalog (no
// directory) passes every name through unchanged.
type Catalog struct {
	dir string
}

// NewCatalog returns a catalog rooted at dir; dir may be empty.
func NewCatalog(dir string) (*Catalog, error) {
	if dir == "" {
		return &Catalog{}, nil
	}
	abs, err := fsutil.AbsDir(dir)
	if err != nil {
		return nil, err
	}
	return &Catalog{dir: abs}, nil
}

// Dir returns the catalog directory (empty when unset).
func (c *Catalog) Dir() string { return c.dir }

// List rescans the directory.
func (c *Catalog) List() ([]types.Adapter, error) {
	if c.dir == "" {
		return nil, nil
	}
	return NewAdapterScanner().Scan(c.dir)
}

// Resolve maps a bare file name found in the catalog to its absolute path and
// expands a leading '~'. Anything else (hub ids, other paths) is returned as is.
func (c *Catalog) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	if strings.HasPrefix(name, "~") {
		return fsutil.ExpandHome(name)
	}
	if p, ok := fsutil.FileInDir(c.dir, name); ok {
		return p, nil
	}
	return name, nil
}
