// Package config loads and validates per-assembly track manifests.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/seqindex/trackdb/internal/assembly"
	"github.com/seqindex/trackdb/internal/transform"
)

// ErrConfig marks a malformed or incomplete manifest. Config errors are
// fatal: nothing is built or queried on a bad manifest.
var ErrConfig = errors.New("config: invalid manifest")

// Track types.
const (
	TypeReference = "reference"
	TypeGene      = "gene"
	TypeScore     = "score"
	TypeRegion    = "region"
	TypeGeneric   = "generic"
)

var validTypes = map[string]bool{
	TypeReference: true,
	TypeGene:      true,
	TypeScore:     true,
	TypeRegion:    true,
	TypeGeneric:   true,
}

// DefaultMaxSkipped is the malformed-row fraction tolerated per track
// build when the manifest does not set one.
const DefaultMaxSkipped = 0.05

// Source describes one input feeding a track: either a local file path
// or a SQL statement run against a DuckDB database file.
type Source struct {
	Path      string `yaml:"path,omitempty"`
	SQL       string `yaml:"sql,omitempty"`
	DB        string `yaml:"db,omitempty"`
	ZeroBased bool   `yaml:"zeroBased,omitempty"`
}

// Track declares one named annotation track within an assembly.
type Track struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	JoinKey    string            `yaml:"joinKey,omitempty"`
	Features   []string          `yaml:"features"`
	Transforms map[string]string `yaml:"transforms,omitempty"`
	Required   []string          `yaml:"required,omitempty"`
	MaxSkipped float64           `yaml:"maxSkipped,omitempty"`
	Sources    []Source          `yaml:"sources"`

	// Rules holds the compiled transform pipeline, resolved by Validate.
	Rules transform.RuleSet `yaml:"-"`
}

// Manifest is the per-assembly configuration: chromosome space plus the
// full track list. Immutable after Validate.
type Manifest struct {
	Assembly    string   `yaml:"assembly"`
	Chromosomes []string `yaml:"chromosomes"`
	Tracks      []Track  `yaml:"tracks"`
}

// Load reads and validates a manifest from a YAML file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest and compiles every track's transform
// rules. Unknown rule kinds and structural problems fail here, before
// any build or query work starts.
func (m *Manifest) Validate() error {
	if m.Assembly == "" {
		return fmt.Errorf("%w: assembly is required", ErrConfig)
	}
	if len(m.Chromosomes) == 0 {
		return fmt.Errorf("%w: chromosomes are required", ErrConfig)
	}
	if len(m.Tracks) == 0 {
		return fmt.Errorf("%w: at least one track is required", ErrConfig)
	}

	seen := make(map[string]bool, len(m.Tracks))
	for i := range m.Tracks {
		t := &m.Tracks[i]
		if err := t.validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate track name %s", ErrConfig, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

func (t *Track) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: track with empty name", ErrConfig)
	}
	if !validTypes[t.Type] {
		return fmt.Errorf("%w: track %s has unknown type %q", ErrConfig, t.Name, t.Type)
	}
	if len(t.Sources) == 0 {
		return fmt.Errorf("%w: track %s declares no sources", ErrConfig, t.Name)
	}
	for _, s := range t.Sources {
		switch {
		case s.Path == "" && s.SQL == "":
			return fmt.Errorf("%w: track %s has a source with neither path nor sql", ErrConfig, t.Name)
		case s.Path != "" && s.SQL != "":
			return fmt.Errorf("%w: track %s has a source with both path and sql", ErrConfig, t.Name)
		case s.SQL != "" && s.DB == "":
			return fmt.Errorf("%w: track %s has a sql source without a db file", ErrConfig, t.Name)
		}
	}

	if t.Type == TypeGene {
		if t.JoinKey == "" {
			return fmt.Errorf("%w: gene track %s needs a joinKey", ErrConfig, t.Name)
		}
		if !contains(t.Features, t.JoinKey) {
			return fmt.Errorf("%w: track %s joinKey %s missing from features", ErrConfig, t.Name, t.JoinKey)
		}
	}

	if t.Type != TypeReference && len(t.Features) == 0 {
		return fmt.Errorf("%w: track %s declares no features", ErrConfig, t.Name)
	}
	for _, r := range t.Required {
		if !contains(t.Features, r) {
			return fmt.Errorf("%w: track %s required field %s missing from features", ErrConfig, t.Name, r)
		}
	}
	for field := range t.Transforms {
		if !contains(t.Features, field) {
			return fmt.Errorf("%w: track %s transform for undeclared field %s", ErrConfig, t.Name, field)
		}
	}

	rules, err := transform.Compile(t.Transforms)
	if err != nil {
		return fmt.Errorf("%w: track %s: %v", ErrConfig, t.Name, err)
	}
	t.Rules = rules

	if t.MaxSkipped < 0 || t.MaxSkipped > 1 {
		return fmt.Errorf("%w: track %s maxSkipped %v out of [0,1]", ErrConfig, t.Name, t.MaxSkipped)
	}
	if t.MaxSkipped == 0 {
		t.MaxSkipped = DefaultMaxSkipped
	}
	return nil
}

// NewAssembly builds the assembly model from the manifest.
func (m *Manifest) NewAssembly() (*assembly.Assembly, error) {
	return assembly.New(m.Assembly, m.Chromosomes)
}

// TrackByName returns the named track declaration, or nil.
func (m *Manifest) TrackByName(name string) *Track {
	for i := range m.Tracks {
		if m.Tracks[i].Name == name {
			return &m.Tracks[i]
		}
	}
	return nil
}

// IsRequired reports whether a feature field is marked required; a
// transform failure on a required field makes the whole row malformed.
func (t *Track) IsRequired(field string) bool {
	return contains(t.Required, field)
}

// Interval reports whether the track is indexed by interval overlap
// rather than by point key.
func (t *Track) Interval() bool {
	switch t.Type {
	case TypeGene, TypeScore, TypeRegion:
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
