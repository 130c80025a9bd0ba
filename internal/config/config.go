// Package config holds runtime configuration for the CloverHub daemon.
//
// Two layers compose: environment variables (with defaults) read at startup,
// and the on-disk config.jsonc under the data directory, which carries the
// repo list and the bus port map. CLI flags override the environment.
package config

import (
	"os"
	"strconv"
)

const (
	// DefaultPort is the port EvtBuzz listens on if nothing else is set.
	DefaultPort = 6699
	// DefaultDataDir is where the Warehouse keeps config, repos, and state.
	DefaultDataDir = "/opt/clover"
)

// Config is the process-wide startup configuration.
type Config struct {
	Port      int
	Host      string
	DataDir   string
	Telemetry TelemetryConfig
	// MasterPrint logs the master user id and API key at startup.
	MasterPrint bool
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:        envInt("CLOVER_PORT", DefaultPort),
		Host:        envStr("CLOVER_HOST", "0.0.0.0"),
		DataDir:     envStr("CLOVER_DATA_DIR", DefaultDataDir),
		MasterPrint: envBool("CLOVER_MASTER_PRINT", false),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "cloverhub"),
		},
	}
}

// ── Data-dir configuration (config.jsonc) ───────────────────

// File is the shape of <data-dir>/config.jsonc. It is parsed as JSON with
// comments via hujson in the warehouse package.
type File struct {
	// DockerDaemon is the socket AppD hands to its container runtime.
	DockerDaemon string `json:"docker_daemon"`
	// Repos maps a reverse-DNS repo id to its remote source.
	Repos map[string]RepoSpec `json:"repos"`
	// ModMan configures hardware bus proxies.
	ModMan ModManConfig `json:"modman"`
}

// RepoSpec describes one remote repository to sync into the Warehouse.
type RepoSpec struct {
	// Name is a friendly user-set override for the repo name.
	Name string `json:"name,omitempty"`
	// Src is the repo source: a local directory, or a remote git repository
	// via HTTP(S) or SSH.
	Src string `json:"src"`
	// Branch to clone and merge.
	Branch string         `json:"branch"`
	Creds  *RepoCredsSpec `json:"creds,omitempty"`
}

// RepoCredsSpec are optional credentials for a repo source.
type RepoCredsSpec struct {
	Username string `json:"username,omitempty"`
	Key      string `json:"key"`
}

// ModManConfig maps physical ports to components per bus type.
type ModManConfig struct {
	// UARTPorts maps a port name (e.g. /dev/ttyUSB0) to its binding.
	UARTPorts map[string]UARTPortConfig `json:"uart_ports"`
}

// UARTPortConfig binds one serial port to one component.
type UARTPortConfig struct {
	ComponentID string `json:"component_id"`
	Baud        int    `json:"baud"`
}

// DefaultFile returns the config.jsonc contents written on first boot.
func DefaultFile() File {
	return File{
		DockerDaemon: "/run/user/1000/podman/podman.sock",
		Repos:        map[string]RepoSpec{},
		ModMan: ModManConfig{
			UARTPorts: map[string]UARTPortConfig{},
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
