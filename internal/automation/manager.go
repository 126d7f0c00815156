//go:build !no_automation

package automation

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/yuin/gopher-lua/parse"
)

var (
	ErrScriptNotFound = errors.New("script not found")
	ErrInvalidID      = errors.New("invalid script id")
	ErrSyntax         = errors.New("lua syntax error")
)

const scriptExt = ".lua"

// Manager stores scripts as files in one directory.
type Manager struct {
	dir    string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewManager opens the scripts directory, creating it if needed.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("scripts dir %s: %w", dir, err)
	}
	return &Manager{dir: dir, logger: logger.With("component", "scripts")}, nil
}

func (m *Manager) Dir() string { return m.dir }

// List returns every script ordered by ID. Files that cannot be read are
// logged and left out.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	var out []*Script
	for _, entry := range entries {
		id, ok := strings.CutSuffix(entry.Name(), scriptExt)
		if entry.IsDir() || !ok || !validScriptID(id) {
			continue
		}
		s, err := m.load(id)
		if err != nil {
			m.logger.Warn("skip script", "file", entry.Name(), "err", err)
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Script) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("get %q: %w", id, ErrInvalidID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.load(id)
}

// Save compiles s and writes it. An empty ID is derived from the name and
// made unique within the directory.
func (m *Manager) Save(s *Script) (*Script, error) {
	if s.ID != "" && !validScriptID(s.ID) {
		return nil, fmt.Errorf("save %q: %w", s.ID, ErrInvalidID)
	}
	if _, err := parse.Parse(strings.NewReader(s.LuaCode), s.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = m.freeID(s.Meta.Name)
	}
	s.FilePath = m.path(s.ID)
	if err := writeFileAtomic(s.FilePath, serializeScript(s)); err != nil {
		return nil, fmt.Errorf("save %s: %w", s.ID, err)
	}
	m.logger.Debug("script saved", "id", s.ID, "enabled", s.Meta.Enabled)
	return s, nil
}

func (m *Manager) Delete(id string) error {
	if !validScriptID(id) {
		return fmt.Errorf("delete %q: %w", id, ErrInvalidID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.path(id))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("delete %s: %w", id, ErrScriptNotFound)
	case err != nil:
		return fmt.Errorf("delete %s: %w", id, err)
	}
	m.logger.Debug("script deleted", "id", id)
	return nil
}

// freeID returns the slug of name, suffixed with _1, _2... until no file
// uses it. Caller holds m.mu.
func (m *Manager) freeID(name string) string {
	base := slugify(name)
	if base == "" {
		base = "script"
	}
	id := base
	for n := 1; ; n++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
		id = base + "_" + strconv.Itoa(n)
	}
}

func (m *Manager) load(id string) (*Script, error) {
	path := m.path(id)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("script %s: %w", id, ErrScriptNotFound)
	}
	if err != nil {
		return nil, err
	}
	s := parseScript(string(data))
	s.ID, s.FilePath = id, path
	return s, nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+scriptExt)
}

// validScriptID reports whether id is a plain file name stem.
func validScriptID(id string) bool {
	return id != "" && !strings.HasPrefix(id, ".") && !strings.ContainsAny(id, `/\`)
}

// writeFileAtomic replaces path with data so readers never see a partial
// script.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
