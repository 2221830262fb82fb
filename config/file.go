package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource loads limit entries from a YAML file.
//
// Example:
//
//	limits:
//	  - name: login-per-user
//	    scope: user
//	    resource: /api/login
//	    capacity: 5
//	    refill_rate: 0.083
//	  - name: user-default
//	    scope: user
//	    capacity: 100
//	    refill_rate: 10
type FileSource struct {
	path string
}

// NewFileSource creates a source reading from path on every Load.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type fileFormat struct {
	Limits []Entry `yaml:"limits"`
}

// Load reads and parses the file. Validation happens at snapshot build time.
func (s *FileSource) Load(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return f.Limits, nil
}

// StaticSource serves a fixed entry list. Mostly for tests.
type StaticSource struct {
	Entries []Entry
	Err     error
}

// Load returns the fixed entries, or the configured error.
func (s *StaticSource) Load(ctx context.Context) ([]Entry, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Entries, nil
}
