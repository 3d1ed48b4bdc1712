// Package provision applies table, index and constraint definitions to every
// tenant schema so that all tenants keep an identical structure.
package provision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type StepKind string

const (
	KindTable      StepKind = "table"
	KindColumn     StepKind = "column"
	KindIndex      StepKind = "index"
	KindConstraint StepKind = "constraint"
	KindSQL        StepKind = "sql"
)

// Step is one DDL statement. Constraint steps are described structurally
// because Postgres has no ADD CONSTRAINT IF NOT EXISTS.
type Step struct {
	Kind       StepKind `yaml:"kind"`
	SQL        string   `yaml:"sql,omitempty"`
	Table      string   `yaml:"table,omitempty"`
	Name       string   `yaml:"name,omitempty"`
	Definition string   `yaml:"definition,omitempty"`
}

// Definition is a named, ordered list of steps loaded from a .yaml or .sql file.
type Definition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`

	Checksum string `yaml:"-"`
	Source   string `yaml:"-"`
}

var (
	identPattern     = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	ifNotExists      = regexp.MustCompile(`(?i)\bIF\s+NOT\s+EXISTS\b`)
	createTable      = regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE\b`)
	createIndex      = regexp.MustCompile(`(?i)^\s*CREATE\s+(UNIQUE\s+)?INDEX\b`)
	alterAddColumn   = regexp.MustCompile(`(?i)^\s*ALTER\s+TABLE\b.*\bADD\s+COLUMN\b`)
	sessionStatement = regexp.MustCompile(`(?i)\bsearch_path\b`)
)

// ParseDefinition parses data according to the extension of name. A .sql file
// becomes a single free-form step named after the file.
func ParseDefinition(name string, data []byte) (*Definition, error) {
	sum := sha256.Sum256(data)
	def := &Definition{Source: name, Checksum: hex.EncodeToString(sum[:])}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, def); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".sql":
		def.Name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		def.Steps = []Step{{Kind: KindSQL, SQL: string(data)}}
	default:
		return nil, fmt.Errorf("unsupported definition file %s", name)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return def, nil
}

// Validate rejects definitions that could fail or diverge on a second run.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("definition name is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("definition %s has no steps", d.Name)
	}
	for i, s := range d.Steps {
		if err := s.validate(); err != nil {
			return fmt.Errorf("definition %s step %d: %w", d.Name, i+1, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	if sessionStatement.MatchString(s.SQL) || sessionStatement.MatchString(s.Definition) {
		return fmt.Errorf("steps must not change search_path")
	}
	switch s.Kind {
	case KindTable:
		if !createTable.MatchString(s.SQL) {
			return fmt.Errorf("table step must be CREATE TABLE")
		}
	case KindIndex:
		if !createIndex.MatchString(s.SQL) {
			return fmt.Errorf("index step must be CREATE INDEX")
		}
	case KindColumn:
		if !alterAddColumn.MatchString(s.SQL) {
			return fmt.Errorf("column step must be ALTER TABLE ... ADD COLUMN")
		}
	case KindConstraint:
		if !identPattern.MatchString(s.Table) || !identPattern.MatchString(s.Name) {
			return fmt.Errorf("constraint step needs lowercase table and name")
		}
		if strings.TrimSpace(s.Definition) == "" {
			return fmt.Errorf("constraint %s has no definition", s.Name)
		}
		return nil
	case KindSQL:
		if strings.TrimSpace(s.SQL) == "" {
			return fmt.Errorf("sql step is empty")
		}
		return nil
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	if !ifNotExists.MatchString(s.SQL) {
		return fmt.Errorf("%s step must use IF NOT EXISTS", s.Kind)
	}
	return nil
}

// LoadDir reads every .yaml, .yml and .sql file in dir, ordered by file name.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".sql":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	defs := make([]*Definition, 0, len(names))
	seen := make(map[string]string)
	for _, n := range names {
		def, err := LoadFile(filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("definition %s declared in both %s and %s", def.Name, prev, n)
		}
		seen[def.Name] = n
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFile reads a single definition file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition %s: %w", path, err)
	}
	return ParseDefinition(path, data)
}
