package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/ports"
)

// FileLoader loads YAML configuration from ~/.insightx/config.yaml
// (overridable via INSIGHTX_CONFIG). API credentials are never written
// to the file; they come from the environment.
type FileLoader struct {
	overridePath string
}

// NewFileLoader builds a new loader.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Load implements ports.ConfigProvider.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.resolvePath()
	if err := ensureConfigDir(path); err != nil {
		return domain.Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := defaultConfig()
			if err := writeDefault(path, cfg); err != nil {
				return domain.Config{}, err
			}
			cfg.Credentials = credentialsFromEnv()
			return cfg, nil
		}
		return domain.Config{}, err
	}

	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Config{}, err
	}

	cfg = hydrateDefaults(cfg)
	if env := credentialsFromEnv(); len(env) > 0 {
		cfg.Credentials = env
	}
	return cfg, nil
}

func (l *FileLoader) resolvePath() string {
	if l.overridePath != "" {
		return l.overridePath
	}
	if custom := os.Getenv("INSIGHTX_CONFIG"); custom != "" {
		return expandPath(custom)
	}
	return filepath.Join(userHomeDir(), ".insightx", "config.yaml")
}

func ensureConfigDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

func writeDefault(path string, cfg domain.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func defaultConfig() domain.Config {
	return domain.Config{
		ConfigFormatVersion: "1",
		Gateway: domain.GatewaySettings{
			BaseURL:        "https://api.bytez.com/models/v2/openai/v1",
			TimeoutSeconds: 60,
			MaxNetRetries:  2,
		},
		Sandbox: domain.SandboxSettings{
			MaxRows:            500,
			CodeTimeoutSeconds: 8,
		},
		Server: domain.ServerSettings{
			Addr: ":8000",
		},
		Storage: domain.StorageSettings{
			Dir: filepath.Join(userHomeDir(), ".insightx", "data"),
		},
	}
}

func hydrateDefaults(cfg domain.Config) domain.Config {
	def := defaultConfig()
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = def.Gateway.BaseURL
	}
	if cfg.Gateway.TimeoutSeconds == 0 {
		cfg.Gateway.TimeoutSeconds = def.Gateway.TimeoutSeconds
	}
	if cfg.Gateway.MaxNetRetries == 0 {
		cfg.Gateway.MaxNetRetries = def.Gateway.MaxNetRetries
	}
	if cfg.Sandbox.MaxRows == 0 {
		cfg.Sandbox.MaxRows = def.Sandbox.MaxRows
	}
	if cfg.Sandbox.CodeTimeoutSeconds == 0 {
		cfg.Sandbox.CodeTimeoutSeconds = def.Sandbox.CodeTimeoutSeconds
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = def.Storage.Dir
	} else {
		cfg.Storage.Dir = expandPath(cfg.Storage.Dir)
	}
	return cfg
}

// credentialsFromEnv collects API keys in precedence order: numbered
// INSIGHTX_API_KEY_1..N variables, then a comma-separated
// INSIGHTX_API_KEYS list, then a single INSIGHTX_API_KEY.
func credentialsFromEnv() []string {
	var keys []string
	for i := 1; ; i++ {
		key := strings.TrimSpace(os.Getenv(fmt.Sprintf("INSIGHTX_API_KEY_%d", i)))
		if key == "" {
			break
		}
		keys = append(keys, key)
	}
	if len(keys) > 0 {
		return keys
	}
	if list := os.Getenv("INSIGHTX_API_KEYS"); list != "" {
		for _, key := range strings.Split(list, ",") {
			if key = strings.TrimSpace(key); key != "" {
				keys = append(keys, key)
			}
		}
		if len(keys) > 0 {
			return keys
		}
	}
	if key := strings.TrimSpace(os.Getenv("INSIGHTX_API_KEY")); key != "" {
		return []string{key}
	}
	return nil
}

func expandPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if len(path) > 1 && path[:2] == "~/" {
		return filepath.Join(userHomeDir(), path[2:])
	}
	return filepath.Clean(path)
}

func userHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
