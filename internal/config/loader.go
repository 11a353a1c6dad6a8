package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Candidate file names, in search order.
const (
	TOMLFile      = "qgate.toml"
	YAMLFile      = "qgate.yaml"
	PyprojectFile = "pyproject.toml"
)

// Load reads the config file at path on top of the defaults. The format is
// chosen by name: pyproject.toml reads its [tool.qgate] table, other .toml
// files are read whole, .yaml and .yml are YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	cfg.Source = path
	switch {
	case filepath.Base(path) == PyprojectFile:
		found, err := decodePyproject(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if !found {
			return nil, fmt.Errorf("%s has no [tool.qgate] table", path)
		}
	case strings.HasSuffix(path, ".toml"):
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config TOML: %w", err)
		}
		cfg.Warnings = undecoded(md, "")
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file %s (want .toml, .yaml or .yml)", path)
	}
	return cfg, nil
}

// LoadDefault searches root for a config and loads the first one found.
// Search order: qgate.toml, qgate.yaml, qgate.yml, pyproject.toml with a
// [tool.qgate] table. Without any, the defaults are returned.
func LoadDefault(root string) (*Config, error) {
	for _, name := range []string{TOMLFile, YAMLFile, "qgate.yml"} {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}

	p := filepath.Join(root, PyprojectFile)
	data, err := os.ReadFile(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Default(), nil
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	found, err := decodePyproject(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}
	if !found {
		return Default(), nil
	}
	cfg.Source = p
	return cfg, nil
}

// decodePyproject decodes [tool.qgate] into cfg and reports whether the
// table exists.
func decodePyproject(data []byte, cfg *Config) (bool, error) {
	var doc struct {
		Tool struct {
			Qgate toml.Primitive `toml:"qgate"`
		} `toml:"tool"`
	}
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return false, err
	}
	if !md.IsDefined("tool", "qgate") {
		return false, nil
	}
	if err := md.PrimitiveDecode(doc.Tool.Qgate, cfg); err != nil {
		return false, err
	}
	cfg.Warnings = undecoded(md, "tool.qgate.")
	return true, nil
}

func undecoded(md toml.MetaData, prefix string) []string {
	var keys []string
	for _, k := range md.Undecoded() {
		s := k.String()
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		keys = append(keys, fmt.Sprintf("unknown key %q", strings.TrimPrefix(s, prefix)))
	}
	sort.Strings(keys)
	return keys
}

// Encode writes cfg as TOML, the format `config show` prints.
func Encode(cfg *Config) (string, error) {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return sb.String(), nil
}
