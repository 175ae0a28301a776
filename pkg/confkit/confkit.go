// Package confkit holds the small config-loading helpers shared by the
// main config and the per-subsystem yaml files: path resolution against
// the main config's directory, generic typed file loading, and sections
// hydrated from separate files.
package confkit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeromicro/go-zero/core/conf"
)

// ResolvePath resolves a file path relative to a base directory after
// expanding environment variables. Absolute paths are returned as-is.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(file)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// BaseDir returns the directory of the main config file path.
func BaseDir(mainPath string) string {
	return filepath.Dir(mainPath)
}

// LoadFile loads a configuration file into T via go-zero's conf.Load,
// optionally expanding ${ENV} references.
func LoadFile[T any](path string, useEnv bool) (*T, error) {
	var cfg T
	var opts []conf.Option
	if useEnv {
		opts = append(opts, conf.UseEnv())
	}
	if err := conf.Load(path, &cfg, opts...); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return &cfg, nil
}

// Section is a configuration section loadable from a separate file. When
// File is empty the section stays unset.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate loads File (resolved against base) through the given loader
// and stores the result in Value. A missing File is a no-op.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if s.File == "" {
		return nil
	}
	p := ResolvePath(base, s.File)
	v, err := loader(p)
	if err != nil {
		return err
	}
	s.File, s.Value = p, v
	return nil
}
