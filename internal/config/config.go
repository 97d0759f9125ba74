// Package config manages the coordinator's configuration. Defaults are
// loaded from an embedded YAML file, exactly as the teacher's
// config.Global does; since this core has no request-serving database
// backing it, the live config is process-local rather than DB-backed, but
// keeps the same Get()/reload shape so the idiom carries over unchanged.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config.default.yaml
var defaultYAML []byte

// Data holds the serialisable configuration, mirroring the teacher's
// Data shape: durations are plain strings in YAML, parsed on demand.
type Data struct {
	RefreshInterval string `yaml:"refresh_interval"`
	JudgeIDMaxLen   int    `yaml:"judge_id_max_len"`
	DataDir         string `yaml:"data_dir"`
	ListenAddr      string `yaml:"listen_addr"`
	WebBaseURL      string `yaml:"web_base_url"`
	WebJWTSecret    string `yaml:"web_jwt_secret"`
	WebTimeout      string `yaml:"web_timeout"`
	AuditDSN        string `yaml:"audit_dsn"`
	HubAddr         string `yaml:"hub_addr"`
	AdminToken      string `yaml:"admin_token"`
	CompileMaxTime  string `yaml:"compile_max_time"`
	OFTPChunkSize   int    `yaml:"oftp_chunk_size"`
}

// Global is a thread-safe wrapper around Data.
type Global struct {
	mu   sync.RWMutex
	data Data
}

// Load builds a Global from the embedded default, overlaid by the YAML
// file at path (if non-empty) and then by JUDGED_*-prefixed environment
// variables, in that order. path == "" skips the file overlay, leaving the
// embedded default plus environment overrides.
func Load(path string) (*Global, error) {
	data := defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &data); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&data)

	if err := validate(data); err != nil {
		return nil, err
	}

	return &Global{data: data}, nil
}

func defaults() Data {
	var d Data
	_ = yaml.Unmarshal(defaultYAML, &d)
	return d
}

func applyEnvOverrides(d *Data) {
	str := func(env string, dst *string) {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}
	num := func(env string, dst *int) {
		if v, ok := os.LookupEnv(env); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("JUDGED_LISTEN_ADDR", &d.ListenAddr)
	str("JUDGED_DATA_DIR", &d.DataDir)
	str("JUDGED_WEB_BASE_URL", &d.WebBaseURL)
	str("JUDGED_WEB_JWT_SECRET", &d.WebJWTSecret)
	str("JUDGED_WEB_TIMEOUT", &d.WebTimeout)
	str("JUDGED_AUDIT_DSN", &d.AuditDSN)
	str("JUDGED_HUB_ADDR", &d.HubAddr)
	str("JUDGED_ADMIN_TOKEN", &d.AdminToken)
	str("JUDGED_REFRESH_INTERVAL", &d.RefreshInterval)
	str("JUDGED_COMPILE_MAX_TIME", &d.CompileMaxTime)
	num("JUDGED_JUDGE_ID_MAX_LEN", &d.JudgeIDMaxLen)
	num("JUDGED_OFTP_CHUNK_SIZE", &d.OFTPChunkSize)
}

func validate(d Data) error {
	if d.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if d.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if d.JudgeIDMaxLen < 1 {
		return fmt.Errorf("config: judge_id_max_len must be >= 1")
	}
	if _, err := time.ParseDuration(d.RefreshInterval); err != nil {
		return fmt.Errorf("config: refresh_interval: %w", err)
	}
	if interval, _ := time.ParseDuration(d.RefreshInterval); interval < time.Second {
		return fmt.Errorf("config: refresh_interval must be >= 1s")
	}
	if d.WebBaseURL != "" && d.WebJWTSecret == "" {
		return fmt.Errorf("config: web_jwt_secret is required when web_base_url is set")
	}
	if d.HubAddr != "" && d.AdminToken == "" {
		return fmt.Errorf("config: admin_token is required when hub_addr is set")
	}
	return nil
}

// Get returns a thread-safe copy of the current configuration.
func (g *Global) Get() Data {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data
}

// Reload re-reads path (or the embedded default, if path == "") and
// env overrides, replacing the live configuration on success.
func (g *Global) Reload(path string) error {
	fresh, err := Load(path)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.data = fresh.data
	g.mu.Unlock()
	return nil
}

// RefreshIntervalDuration parses RefreshInterval, falling back to 2s on a
// malformed value (Load already rejects one, so this only matters for a
// Global constructed directly from a Data literal in tests).
func (d Data) RefreshIntervalDuration() time.Duration {
	dur, err := time.ParseDuration(d.RefreshInterval)
	if err != nil {
		return 2 * time.Second
	}
	return dur
}

// WebTimeoutDuration parses WebTimeout, defaulting to 10s.
func (d Data) WebTimeoutDuration() time.Duration {
	dur, err := time.ParseDuration(d.WebTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return dur
}

// CompileMaxTimeDuration parses CompileMaxTime, defaulting to 30s.
func (d Data) CompileMaxTimeDuration() time.Duration {
	dur, err := time.ParseDuration(d.CompileMaxTime)
	if err != nil {
		return 30 * time.Second
	}
	return dur
}
