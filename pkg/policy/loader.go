package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// decoder turns the contents of a policy file into a Policy. Fields left empty
// are filled in by the loader.
type decoder func(path string, data []byte) (*Policy, error)

var decoders = map[string]decoder{
	".rego": decodeRego,
	".json": func(_ string, data []byte) (*Policy, error) {
		p := &Policy{Enabled: true}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
		}
		return p, nil
	},
	".yaml": decodeYAML,
	".yml":  decodeYAML,
}

func decodeYAML(_ string, data []byte) (*Policy, error) {
	p := &Policy{Enabled: true}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML policy: %w", err)
	}
	return p, nil
}

// decodeRego parses a Rego module. A package METADATA block may set the
// description and, under custom, the severity. Without one the leading
// comments become the description.
func decodeRego(path string, data []byte) (*Policy, error) {
	mod, err := ast.ParseModuleWithOpts(path, string(data), ast.ParserOptions{ProcessAnnotation: true})
	if err != nil {
		return nil, fmt.Errorf("failed to parse Rego policy: %w", err)
	}

	p := &Policy{Rego: string(data), Enabled: true}
	for _, a := range mod.Annotations {
		if a.Scope != "package" {
			continue
		}
		p.Description = strings.TrimSpace(a.Description)
		if sev, ok := a.Custom["severity"].(string); ok {
			p.Severity = Severity(sev)
		}
	}
	if p.Description == "" {
		p.Description = leadingComments(mod)
	}
	return p, nil
}

// leadingComments joins the comments above the package clause.
func leadingComments(mod *ast.Module) string {
	var parts []string
	for _, c := range mod.Comments {
		if c.Location == nil || c.Location.Row >= mod.Package.Location.Row {
			break
		}
		if text := strings.TrimSpace(string(c.Text)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Loader reads policies from .rego, .json and .yaml files.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths loads every file path and every policy file below each
// directory path. Directories are walked in lexical order; a file in a
// directory that fails to load is logged and skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		if !info.IsDir() {
			p, err := l.LoadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
			}
			policies = append(policies, *p)
			continue
		}

		files, err := policyFiles(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		for _, file := range files {
			p, err := l.LoadFile(file)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", file).Msg("Skipping policy file")
				continue
			}
			policies = append(policies, *p)
		}
	}

	l.logger.Debug().Int("total", len(policies)).Int("sources", len(paths)).Msg("Policies loaded")
	return policies, nil
}

// policyFiles lists the loadable files below dir, skipping Rego tests.
func policyFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.HasSuffix(path, "_test.rego") {
			return nil
		}
		if _, ok := decoders[filepath.Ext(path)]; ok {
			files = append(files, path)
		}
		return nil
	})
	slices.Sort(files)
	return files, err
}

// LoadFile loads a single policy file. The policy is named after the file
// unless it names itself, and defaults to warning severity.
func (l *Loader) LoadFile(path string) (*Policy, error) {
	ext := filepath.Ext(path)
	decode, ok := decoders[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported policy file type %q: %s", ext, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	p, err := decode(path, data)
	if err != nil {
		return nil, err
	}

	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ext)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	p.Metadata["source"] = path
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy loaded from file")
	return p, nil
}
