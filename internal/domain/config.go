package domain

import "time"

// Config mirrors ~/.insightx/config.yaml.
type Config struct {
	ConfigFormatVersion string          `yaml:"config_format_version"`
	Gateway             GatewaySettings `yaml:"gateway"`
	Sandbox             SandboxSettings `yaml:"sandbox"`
	Server              ServerSettings  `yaml:"server"`
	Storage             StorageSettings `yaml:"storage"`
	Credentials         []string        `yaml:"credentials,omitempty"`
}

// GatewaySettings configures the upstream model gateway.
type GatewaySettings struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout"`
	MaxNetRetries  int    `yaml:"max_net_retries"`
}

// Timeout returns the per-call upstream timeout.
func (g GatewaySettings) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// SandboxSettings bounds both sandboxes.
type SandboxSettings struct {
	MaxRows            int `yaml:"max_rows"`
	CodeTimeoutSeconds int `yaml:"code_timeout"`
}

// CodeTimeout returns the wall-clock limit for one code execution.
func (s SandboxSettings) CodeTimeout() time.Duration {
	return time.Duration(s.CodeTimeoutSeconds) * time.Second
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	Addr string `yaml:"addr"`
}

// StorageSettings locates the local sqlite databases.
type StorageSettings struct {
	Dir string `yaml:"dir"`
}
