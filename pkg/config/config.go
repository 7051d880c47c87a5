// Package config loads the engine configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aixgo-dev/duet/internal/auth"
	"github.com/aixgo-dev/duet/internal/humanize"
	"github.com/aixgo-dev/duet/internal/llm"
	"github.com/aixgo-dev/duet/internal/observability"
	"github.com/aixgo-dev/duet/internal/reply"
	"github.com/aixgo-dev/duet/internal/schedule"
	"github.com/aixgo-dev/duet/internal/transport"
	"github.com/aixgo-dev/duet/pkg/memory"
)

// Config represents the application configuration
type Config struct {
	// Room is the chat room every agent joins.
	Room string `yaml:"room"`
	// Password is shared by every agent account.
	Password string        `yaml:"password"`
	Agents   []AgentConfig `yaml:"agents"`

	Auth      auth.Config      `yaml:"auth"`
	Transport transport.Config `yaml:"transport"`
	LLM       llm.Config       `yaml:"llm"`

	Timing    schedule.Timing       `yaml:"timing"`
	Memory    memory.Config         `yaml:"memory"`
	Redis     memory.RedisConfig    `yaml:"redis"`
	Gate      reply.GateConfig      `yaml:"gate"`
	Generator reply.GeneratorConfig `yaml:"generator"`
	Humanize  humanize.Config       `yaml:"humanize"`
	Topics    []string              `yaml:"topics"`

	Jobs    JobsConfig           `yaml:"jobs"`
	Engine  EngineConfig         `yaml:"engine"`
	Log     LogConfig            `yaml:"log"`
	HTTP    HTTPConfig           `yaml:"http"`
	Tracing observability.Config `yaml:"tracing"`
}

// AgentConfig names one agent account. Partner defaults to the next agent in
// the list.
type AgentConfig struct {
	Name    string `yaml:"name"`
	Partner string `yaml:"partner"`
}

// JobsConfig sets the periodic job intervals.
type JobsConfig struct {
	Maintenance time.Duration `yaml:"maintenance"`
	Recharge    time.Duration `yaml:"recharge"`
	Evict       time.Duration `yaml:"evict"`
	IdleCheck   time.Duration `yaml:"idle_check"`
}

// EngineConfig bounds concurrency and pacing.
type EngineConfig struct {
	// MaxInFlight bounds concurrently running reply tasks.
	MaxInFlight int `yaml:"max_in_flight"`
	// SendRate is the sustained messages per second across all agents.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`
	// AgentSendRate is the sustained messages per second for one agent.
	AgentSendRate float64 `yaml:"agent_send_rate"`
	// LogCapacity bounds the in-memory log ring.
	LogCapacity int `yaml:"log_capacity"`
	// LogKeep and HistoryKeep are what maintenance leaves behind.
	LogKeep     int `yaml:"log_keep"`
	HistoryKeep int `yaml:"history_keep"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// HTTPConfig configures the observability server. Port 0 disables it.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Auth:      auth.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		LLM:       llm.DefaultConfig(),
		Timing:    schedule.DefaultTiming(),
		Memory:    memory.DefaultConfig(),
		Gate:      reply.DefaultGateConfig(),
		Generator: reply.DefaultGeneratorConfig(),
		Humanize:  humanize.DefaultConfig(),
		Topics:    append([]string(nil), reply.DefaultTopics...),
		Jobs: JobsConfig{
			Maintenance: 15 * time.Minute,
			Recharge:    time.Minute,
			Evict:       time.Minute,
			IdleCheck:   time.Minute,
		},
		Engine: EngineConfig{
			MaxInFlight:   16,
			SendRate:      1,
			SendBurst:     3,
			AgentSendRate: 0.5,
			LogCapacity:   300,
			LogKeep:       0,
			HistoryKeep:   2,
		},
		Log:     LogConfig{Level: "info"},
		HTTP:    HTTPConfig{Port: 8080},
		Tracing: observability.Config{ServiceName: observability.DefaultServiceName, ExporterType: "none"},
	}
}

// LoadConfig reads path over the defaults and applies environment overrides.
// An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		limits := DefaultYAMLLimits()
		if info.Size() > limits.MaxFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes exceeds maximum %d bytes", info.Size(), limits.MaxFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := unmarshalYAML(data, cfg, limits); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables:
//   - DUET_ROOM, DUET_PASSWORD
//   - DUET_AGENTS: "name[:partner],name[:partner]"
//   - GROQ_API_KEY or OPENAI_API_KEY, when llm.api_key is unset
//   - LLM_BASE_URL, LLM_MODEL
//   - REDIS_ADDR
//   - LOG_LEVEL
//   - OTEL_TRACES_EXPORTER (with the other OTEL_* variables)
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if v := get("DUET_ROOM"); v != "" {
		c.Room = v
	}
	if v := get("DUET_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := get("DUET_AGENTS"); v != "" {
		c.Agents = parseAgents(v)
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = get("GROQ_API_KEY")
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = get("OPENAI_API_KEY")
	}
	if v := get("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := get("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := get("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := get("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if get("OTEL_TRACES_EXPORTER") != "" {
		c.Tracing = observability.ConfigFromEnv()
	}
}

func parseAgents(s string) []AgentConfig {
	var agents []AgentConfig
	for _, item := range strings.Split(s, ",") {
		name, partner, _ := strings.Cut(strings.TrimSpace(item), ":")
		if name == "" {
			continue
		}
		agents = append(agents, AgentConfig{Name: strings.TrimSpace(name), Partner: strings.TrimSpace(partner)})
	}
	return agents
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid. Every problem found is
// reported.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Room == "" {
		add("room is required")
	}
	if c.Password == "" {
		add("password is required")
	}
	if len(c.Agents) < 2 {
		add("at least two agents are required, got %d", len(c.Agents))
	}
	seen := make(map[string]bool)
	for i, a := range c.Agents {
		switch {
		case a.Name == "":
			add("agents[%d].name is required", i)
		case seen[a.Name]:
			add("agent %q listed twice", a.Name)
		case a.Partner == a.Name:
			add("agent %q cannot partner itself", a.Name)
		}
		seen[a.Name] = true
	}
	if c.LLM.APIKey == "" {
		add("llm.api_key is required (or set GROQ_API_KEY)")
	}
	if !strings.Contains(c.Transport.URL, "{token}") {
		add("transport.url must contain {token}")
	}

	for name, p := range map[string]float64{
		"gate.partner_probability":       c.Gate.PartnerProbability,
		"gate.bystander_probability":     c.Gate.BystanderProbability,
		"gate.depleted_skip_probability": c.Gate.DepletedSkipProbability,
		"gate.moody_damping":             c.Gate.MoodyDamping,
		"humanize.slang_probability":     c.Humanize.SlangProbability,
		"humanize.typo_probability":      c.Humanize.TypoProbability,
		"humanize.burst_probability":     c.Humanize.BurstProbability,
	} {
		if p < 0 || p > 1 {
			add("%s must be within [0,1], got %v", name, p)
		}
	}
	if t := c.Humanize.SimilarityThreshold; t <= 0 || t >= 1 {
		add("humanize.similarity_threshold must be within (0,1), got %v", t)
	}
	if c.Memory.Capacity < 1 {
		add("memory.capacity must be positive")
	}
	if c.Memory.EnergyCostMin < 0 || c.Memory.EnergyCostMax < c.Memory.EnergyCostMin {
		add("memory energy cost range is invalid")
	}

	for name, r := range map[string]schedule.Range{
		"timing.read_delay":        c.Timing.ReadDelay,
		"timing.typing_per_char":   c.Timing.TypingPerChar,
		"timing.settle_delay":      c.Timing.SettleDelay,
		"timing.reconnect_backoff": c.Timing.ReconnectBackoff,
		"timing.join_stagger":      c.Timing.JoinStagger,
		"timing.burst_gap":         c.Timing.BurstGap,
		"timing.kickstart_delay":   c.Timing.KickstartDelay,
		"timing.retry_pause":       c.Timing.RetryPause,
		"timing.idle_after":        c.Timing.IdleAfter,
	} {
		if r.Min < 0 || r.Max < r.Min {
			add("%s: min %v must be non-negative and not above max %v", name, r.Min, r.Max)
		}
	}

	if c.Engine.MaxInFlight < 1 {
		add("engine.max_in_flight must be positive")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		add("http.port %d out of range", c.HTTP.Port)
	}

	return errors.Join(errs...)
}
