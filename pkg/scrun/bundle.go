package scrun

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	spec "github.com/opencontainers/runtime-spec/specs-go"
)

// envPrefixes are the bundle environment keys propagated into the
// client's own environment on create.
var envPrefixes = []string{"SCRUN_", "SLURM_"}

// Bundle is the subset of an OCI bundle's config.json the client
// needs.
type Bundle struct {
	Path        string
	RootPath    string
	OCIVersion  string
	Annotations map[string]string
	Terminal    bool
	Env         []string // filtered to recognised prefixes
}

// LoadBundle reads <dir>/config.json. A relative root path is resolved
// against the bundle directory.
func LoadBundle(dir string) (*Bundle, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(abs, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("read bundle config: %w", err)
	}
	var cfg spec.Spec
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse bundle config: %w", err)
	}

	b := &Bundle{
		Path:        abs,
		OCIVersion:  cfg.Version,
		Annotations: cfg.Annotations,
	}
	if b.Annotations == nil {
		b.Annotations = map[string]string{}
	}
	if cfg.Root != nil {
		b.RootPath = cfg.Root.Path
		if !filepath.IsAbs(b.RootPath) {
			b.RootPath = filepath.Join(abs, b.RootPath)
		}
	}
	if cfg.Process != nil {
		b.Terminal = cfg.Process.Terminal
		for _, kv := range cfg.Process.Env {
			if recognisedEnv(kv) {
				b.Env = append(b.Env, kv)
			}
		}
	}
	return b, nil
}

func recognisedEnv(kv string) bool {
	for _, p := range envPrefixes {
		if strings.HasPrefix(kv, p) {
			return true
		}
	}
	return false
}

// ExportEnv puts the bundle's filtered environment into the process
// environment. Called before any listener starts.
func (b *Bundle) ExportEnv() error {
	for _, kv := range b.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}
