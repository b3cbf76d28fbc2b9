package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source provides the set of definitions visible to the resolver.
type Source interface {
	Lookup(id string) (*Definition, error)
}

// DirSource loads definitions from YAML files in a directory, one
// definition per file, keyed by the file's base name.
type DirSource struct {
	dir string
}

// NewDirSource creates a DirSource rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Lookup reads and parses <dir>/<id>.yaml.
func (s *DirSource) Lookup(id string) (*Definition, error) {
	path := filepath.Join(s.dir, id+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workflow %q not found (looked at %s)", id, path)
		}
		return nil, fmt.Errorf("read workflow %q: %w", id, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow %q: %w", id, err)
	}
	if def.ID == "" {
		def.ID = id
	}
	if def.ID != id {
		return nil, fmt.Errorf("workflow file %s declares id %q", path, def.ID)
	}
	return &def, nil
}

// IDs returns the ids of all definitions in the directory, sorted.
func (s *DirSource) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}

// MapSource serves definitions from memory. Used in tests and anywhere a
// caller already holds the definition set.
type MapSource map[string]*Definition

// Lookup returns the definition with the given id.
func (s MapSource) Lookup(id string) (*Definition, error) {
	def, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found", id)
	}
	return def, nil
}
