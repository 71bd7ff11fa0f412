package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/richinsley/comfydrive/graphapi"
)

// snapshot is an immutable view of the loaded templates.
type snapshot struct {
	byIndex map[int]*Info
	ordered []*Info
}

// Registry holds the templates found in a directory. Readers always see a
// complete snapshot; Reload builds a new one and swaps it in.
type Registry struct {
	dir      string
	taxonomy *graphapi.Taxonomy
	logger   *slog.Logger

	reloadMu sync.Mutex
	current  atomic.Pointer[snapshot]
}

type RegistryOption func(*Registry)

// WithTaxonomy classifies templates with tax instead of the default taxonomy.
func WithTaxonomy(tax *graphapi.Taxonomy) RegistryOption {
	return func(r *Registry) {
		r.taxonomy = tax
	}
}

func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry for dir and loads it. The returned error
// reports a directory that cannot be created or listed; individual templates
// that fail to load are logged and skipped.
func NewRegistry(dir string, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{dir: dir}
	for _, opt := range opts {
		opt(r)
	}
	if r.taxonomy == nil {
		r.taxonomy = graphapi.DefaultTaxonomy()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.current.Store(&snapshot{byIndex: map[int]*Info{}})

	if err := r.Reload(); err != nil {
		return r, err
	}
	return r, nil
}

func (r *Registry) Dir() string {
	return r.dir
}

// Reload rescans the directory and replaces the registry contents. Indices
// follow the alphabetical order of *.json file names starting at 1; a file
// that fails to load keeps its index unused.
func (r *Registry) Reload() error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	if _, err := os.Stat(r.dir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			return fmt.Errorf("create workflow dir: %w", err)
		}
		r.current.Store(&snapshot{byIndex: map[int]*Info{}})
		return nil
	}

	files, err := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("list workflow dir: %w", err)
	}
	sort.Strings(files)

	next := &snapshot{byIndex: make(map[int]*Info, len(files))}
	for i, path := range files {
		idx := i + 1
		info, err := r.load(path)
		if err != nil {
			r.logger.Error("failed to load workflow", "path", path, "error", err)
			continue
		}
		info.Index = idx
		next.byIndex[idx] = info
		next.ordered = append(next.ordered, info)
		r.logger.Info("loaded workflow", "index", idx, "name", info.Name)
	}

	r.current.Store(next)
	return nil
}

func (r *Registry) load(path string) (*Info, error) {
	g, err := graphapi.NewGraphFromJsonFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return NewInfo(name, path, g, r.taxonomy), nil
}

// Get returns the template with the given index.
func (r *Registry) Get(index int) (*Info, bool) {
	info, ok := r.current.Load().byIndex[index]
	return info, ok
}

// List returns the loaded templates ordered by index.
func (r *Registry) List() []*Info {
	return append([]*Info(nil), r.current.Load().ordered...)
}

func (r *Registry) Count() int {
	return len(r.current.Load().ordered)
}

// Import writes g into the directory as <name>.json and reloads. Existing
// templates with the same name are overwritten.
func (r *Registry) Import(name string, g *graphapi.Graph) (*Info, error) {
	name = strings.TrimSuffix(filepath.Base(name), ".json")
	if name == "" || name == "." {
		return nil, errors.New("workflow name is empty")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workflow dir: %w", err)
	}

	path := filepath.Join(r.dir, name+".json")
	if err := g.SaveGraphToFile(path); err != nil {
		return nil, fmt.Errorf("save workflow: %w", err)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}

	for _, info := range r.List() {
		if info.Path == path {
			return info, nil
		}
	}
	return nil, fmt.Errorf("workflow %q did not load after import", name)
}
