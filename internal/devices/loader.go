package devices

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/KevinKickass/OpenMatrixCore/internal/types"
	"gopkg.in/yaml.v3"
)

// deviceFile is the layout of a YAML device file.
type deviceFile struct {
	Devices []types.MatrixDevice `yaml:"devices"`
}

// DefinitionLoader reads switcher definitions from YAML files in the
// configured search paths.
type DefinitionLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewDefinitionLoader(searchPaths []string, validator *Validator) *DefinitionLoader {
	return &DefinitionLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}
}

// Load parses and validates one device file.
func (l *DefinitionLoader) Load(path string) ([]types.MatrixDevice, error) {
	if cached, ok := l.cache.Load(path); ok {
		return cached.([]types.MatrixDevice), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device file: %w", err)
	}

	var file deviceFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for i := range file.Devices {
		d := &file.Devices[i]
		if err := l.validator.ValidateDevice(d); err != nil {
			return nil, fmt.Errorf("validation failed for %s device %d (%q): %w", path, i, d.Name, err)
		}
	}

	l.cache.Store(path, file.Devices)
	return file.Devices, nil
}

// LoadAll loads every *.yaml and *.yml file in the search paths. Device names
// must be unique across files.
func (l *DefinitionLoader) LoadAll() ([]types.MatrixDevice, error) {
	var paths []string
	for _, dir := range l.searchPaths {
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return nil, fmt.Errorf("invalid search path %s: %w", dir, err)
			}
			paths = append(paths, matches...)
		}
	}
	sort.Strings(paths)

	seen := make(map[string]string)
	var all []types.MatrixDevice
	for _, path := range paths {
		defs, err := l.Load(path)
		if err != nil {
			return nil, err
		}
		for _, d := range defs {
			if prev, dup := seen[d.Name]; dup {
				return nil, fmt.Errorf("device %q defined in %s and %s", d.Name, prev, path)
			}
			seen[d.Name] = path
			all = append(all, d)
		}
	}
	return all, nil
}

func (l *DefinitionLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
