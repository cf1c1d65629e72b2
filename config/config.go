package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the homescout services.
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Streams     StreamsConfig     `mapstructure:"streams"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Session     SessionConfig     `mapstructure:"session"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Search      SearchConfig      `mapstructure:"search"`
	Mapbox      MapboxConfig      `mapstructure:"mapbox"`
	Storage     StorageConfig     `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP gateway settings
type ServerConfig struct {
	Address     string        `mapstructure:"address"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
	ReplyWait   time.Duration `mapstructure:"reply_wait"` // default long-poll window for reply fetches
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address required")
	}
	return nil
}

// LLMConfig contains the language model provider configuration
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // openai
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CostPer1K       float64       `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Provider) == "" {
		return fmt.Errorf("llm.provider required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && strings.TrimSpace(t.ServiceName) == "" {
		return fmt.Errorf("telemetry.service_name required when telemetry is enabled")
	}
	return nil
}

// StreamsConfig tunes the Redis Streams transport shared by all services.
type StreamsConfig struct {
	MaxLenApprox int64         `mapstructure:"max_len_approx"`
	Block        time.Duration `mapstructure:"block"`
	BatchSize    int64         `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// Normalize applies defaults for unset stream values.
func (s StreamsConfig) Normalize() StreamsConfig {
	if s.MaxLenApprox <= 0 {
		s.MaxLenApprox = 8192
	}
	if s.Block <= 0 {
		s.Block = 5 * time.Second
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 16
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	return s
}

// CoordinatorConfig controls the fan-out/fan-in aggregation loop.
type CoordinatorConfig struct {
	Group         string        `mapstructure:"group"`    // consumer group for result streams
	Consumer      string        `mapstructure:"consumer"` // consumer name, defaults to hostname
	FanoutCap     int           `mapstructure:"fanout_cap"`
	StageDeadline time.Duration `mapstructure:"stage_deadline"`
}

func (c CoordinatorConfig) Validate() error {
	if c.FanoutCap <= 0 {
		return fmt.Errorf("coordinator.fanout_cap must be > 0")
	}
	if c.StageDeadline <= 0 {
		return fmt.Errorf("coordinator.stage_deadline must be > 0")
	}
	return nil
}

// Normalize fills the consumer name from the hostname when unset.
func (c CoordinatorConfig) Normalize() CoordinatorConfig {
	if strings.TrimSpace(c.Consumer) == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "coordinator-1"
		}
		c.Consumer = host
	}
	return c
}

// SessionConfig selects the session store backend and its retention policy.
type SessionConfig struct {
	Backend       string        `mapstructure:"backend"` // memory or redis
	TTL           time.Duration `mapstructure:"ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

func (s SessionConfig) Validate() error {
	switch s.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("session.backend must be memory or redis, got %q", s.Backend)
	}
	if s.TTL <= 0 {
		return fmt.Errorf("session.ttl must be > 0")
	}
	return nil
}

// WorkerConfig selects which stage handlers a worker process runs.
type WorkerConfig struct {
	Agents []string `mapstructure:"agents"`
}

// Normalize dedupes and lower-cases the agent list.
func (w WorkerConfig) Normalize() WorkerConfig {
	seen := make(map[string]struct{}, len(w.Agents))
	var dedup []string
	for _, name := range w.Agents {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		dedup = append(dedup, name)
	}
	w.Agents = dedup
	return w
}

// SearchConfig contains listing discovery settings.
type SearchConfig struct {
	Provider         string        `mapstructure:"provider"` // serper or brave
	SerperAPIKey     string        `mapstructure:"serper_api_key"`
	BraveAPIKey      string        `mapstructure:"brave_api_key"`
	Sites            []string      `mapstructure:"sites"`
	MaxResults       int           `mapstructure:"max_results"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Fetcher          string        `mapstructure:"fetcher"` // chromedp or http
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	FetchMaxChars    int           `mapstructure:"fetch_max_chars"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
}

// Normalize trims and dedupes the site list.
func (s SearchConfig) Normalize() SearchConfig {
	seen := make(map[string]struct{}, len(s.Sites))
	var dedup []string
	for _, site := range s.Sites {
		site = strings.ToLower(strings.TrimSpace(site))
		if site == "" {
			continue
		}
		if _, ok := seen[site]; ok {
			continue
		}
		seen[site] = struct{}{}
		dedup = append(dedup, site)
	}
	s.Sites = dedup
	if s.FetchConcurrency <= 0 {
		s.FetchConcurrency = 4
	}
	return s
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "serper", "brave":
	default:
		return fmt.Errorf("search.provider must be serper or brave, got %q", s.Provider)
	}
	switch s.Fetcher {
	case "chromedp", "http":
	default:
		return fmt.Errorf("search.fetcher must be chromedp or http, got %q", s.Fetcher)
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	if len(s.Sites) == 0 {
		return fmt.Errorf("search.sites must list at least one listing site")
	}
	return nil
}

// MapboxConfig contains geocoding and point-of-interest lookup settings.
type MapboxConfig struct {
	Token         string        `mapstructure:"token"`
	BaseURL       string        `mapstructure:"base_url"`
	CategoryLimit int           `mapstructure:"category_limit"`
	Categories    []string      `mapstructure:"categories"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Normalize trims the base URL and dedupes categories.
func (m MapboxConfig) Normalize() MapboxConfig {
	m.BaseURL = strings.TrimRight(strings.TrimSpace(m.BaseURL), "/")
	seen := make(map[string]struct{}, len(m.Categories))
	var dedup []string
	for _, cat := range m.Categories {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if cat == "" {
			continue
		}
		if _, ok := seen[cat]; ok {
			continue
		}
		seen[cat] = struct{}{}
		dedup = append(dedup, cat)
	}
	m.Categories = dedup
	return m
}

func (m MapboxConfig) Validate() error {
	if strings.TrimSpace(m.BaseURL) == "" {
		return fmt.Errorf("mapbox.base_url required")
	}
	if m.CategoryLimit <= 0 {
		return fmt.Errorf("mapbox.category_limit must be > 0")
	}
	if len(m.Categories) == 0 {
		return fmt.Errorf("mapbox.categories must list at least one category")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings. The archive store is
// optional: when neither url nor host is set, services run without it.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether an archive store connection is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if !p.Enabled() {
		return nil
	}
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.reply_wait", "25s")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_tokens", 2000)
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.service_name", "homescout")
	viper.SetDefault("telemetry.cost_tracking", true)
	viper.SetDefault("streams.max_len_approx", 8192)
	viper.SetDefault("streams.block", "5s")
	viper.SetDefault("streams.batch_size", 16)
	viper.SetDefault("streams.max_attempts", 3)
	viper.SetDefault("coordinator.group", "coordinator")
	viper.SetDefault("coordinator.fanout_cap", 5)
	viper.SetDefault("coordinator.stage_deadline", "90s")
	viper.SetDefault("session.backend", "memory")
	viper.SetDefault("session.ttl", "2h")
	viper.SetDefault("session.sweep_schedule", "*/10 * * * *")
	viper.SetDefault("worker.agents", []string{"scoping", "research", "geocode", "discovery", "community", "qa"})
	viper.SetDefault("search.provider", "serper")
	viper.SetDefault("search.sites", []string{"zillow.com", "realtor.com", "redfin.com", "trulia.com", "apartments.com"})
	viper.SetDefault("search.max_results", 10)
	viper.SetDefault("search.timeout", "20s")
	viper.SetDefault("search.fetcher", "chromedp")
	viper.SetDefault("search.fetch_timeout", "25s")
	viper.SetDefault("search.fetch_max_chars", 8000)
	viper.SetDefault("search.fetch_concurrency", 4)
	viper.SetDefault("mapbox.base_url", "https://api.mapbox.com")
	viper.SetDefault("mapbox.category_limit", 2)
	viper.SetDefault("mapbox.categories", []string{"school", "hospital", "grocery", "restaurant", "park", "transit_station", "cafe", "gym"})
	viper.SetDefault("mapbox.timeout", "10s")

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("HOMESCOUT")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (HOMESCOUT_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Streams = config.Streams.Normalize()
	config.Coordinator = config.Coordinator.Normalize()
	config.Worker = config.Worker.Normalize()
	config.Search = config.Search.Normalize()
	config.Mapbox = config.Mapbox.Normalize()

	if err := config.Server.Validate(); err != nil {
		panic(err)
	}
	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Coordinator.Validate(); err != nil {
		panic(err)
	}
	if err := config.Session.Validate(); err != nil {
		panic(err)
	}
	if err := config.Search.Validate(); err != nil {
		panic(err)
	}
	if err := config.Mapbox.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
