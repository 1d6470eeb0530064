package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/archive"
	"github.com/Kocoro-lab/deepresearch/internal/circuitbreaker"
	"github.com/Kocoro-lab/deepresearch/internal/db"
	"github.com/Kocoro-lab/deepresearch/internal/embeddings"
	"github.com/Kocoro-lab/deepresearch/internal/evidence"
	"github.com/Kocoro-lab/deepresearch/internal/llm"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
	"github.com/Kocoro-lab/deepresearch/internal/vectordb"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the service configuration loaded from research.yaml plus
// RESEARCH_* environment overrides.
type Config struct {
	Service    ServiceConfig     `mapstructure:"service"`
	Launcher   LauncherConfig    `mapstructure:"launcher"`
	Research   ResearchConfig    `mapstructure:"research"`
	LLM        LLMConfig         `mapstructure:"llm"`
	Evidence   EvidenceConfig    `mapstructure:"evidence"`
	Embeddings embeddings.Config `mapstructure:"embeddings"`
	VectorDB   vectordb.Config   `mapstructure:"vectordb"`
	Database   db.Config         `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Streaming  StreamingConfig   `mapstructure:"streaming"`
	Archive    ArchiveConfig     `mapstructure:"archive"`
	Tracing    tracing.Config    `mapstructure:"tracing"`

	CircuitBreakers map[string]circuitbreaker.Settings `mapstructure:"circuit_breakers"`
}

type ServiceConfig struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	HealthPort  int    `mapstructure:"health_port"`
	// ConfigDir is watched for models file changes.
	ConfigDir  string `mapstructure:"config_dir"`
	ModelsFile string `mapstructure:"models_file"`
}

// LauncherConfig selects where jobs run.
type LauncherConfig struct {
	Kind         string `mapstructure:"kind"`
	TemporalHost string `mapstructure:"temporal_host"`
	Namespace    string `mapstructure:"namespace"`
	TaskQueue    string `mapstructure:"task_queue"`
	// RunWorker starts a Temporal worker in this process.
	RunWorker bool `mapstructure:"run_worker"`
}

// ResearchConfig holds the default budgets for new jobs.
type ResearchConfig struct {
	Breadth        int           `mapstructure:"breadth"`
	Depth          int           `mapstructure:"depth"`
	ExtractTimeout time.Duration `mapstructure:"extract_timeout"`
}

type LLMConfig struct {
	GenAI   llm.GenAIConfig   `mapstructure:"genai"`
	Service    llm.ServiceConfig `mapstructure:"service"`
}

type EvidenceConfig struct {
	Web evidence.WebConfig `mapstructure:"web"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StreamingConfig struct {
	Capacity  int           `mapstructure:"capacity"`
	MaxLen    int64         `mapstructure:"max_len"`
	StreamTTL time.Duration `mapstructure:"stream_ttl"`
}

type ArchiveConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	archive.Config `mapstructure:",squash"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.http_port", 8080)
	v.SetDefault("service.metrics_port", 2112)
	v.SetDefault("service.health_port", 8081)
	v.SetDefault("service.config_dir", "config")
	v.SetDefault("service.models_file", "models.yaml")

	v.SetDefault("launcher.kind", "local")
	v.SetDefault("launcher.temporal_host", "localhost:7233")
	v.SetDefault("launcher.namespace", "default")
	v.SetDefault("launcher.task_queue", "deep-research")
	v.SetDefault("launcher.run_worker", true)

	v.SetDefault("research.breadth", 4)
	v.SetDefault("research.depth", 2)
	v.SetDefault("research.extract_timeout", 60*time.Second)

	v.SetDefault("llm.genai.api_key", "")
	v.SetDefault("llm.service.base_url", "")
	v.SetDefault("llm.service.timeout", 2*time.Minute)

	v.SetDefault("evidence.web.mode", evidence.ModeBrowser)
	v.SetDefault("evidence.web.control_url", "")
	v.SetDefault("evidence.web.browser_bin", "")
	v.SetDefault("evidence.web.search_qps", 1.0)

	v.SetDefault("embeddings.provider", embeddings.ProviderGenAI)
	v.SetDefault("embeddings.api_key", "")
	v.SetDefault("embeddings.base_url", "")
	v.SetDefault("vectordb.base_url", "http://localhost:6333")
	v.SetDefault("vectordb.api_key", "")

	v.SetDefault("database.driver", db.DriverSQLite)
	v.SetDefault("database.path", "research.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "research")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "research")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")

	v.SetDefault("streaming.capacity", 256)
	v.SetDefault("streaming.max_len", 1000)
	v.SetDefault("streaming.stream_ttl", 24*time.Hour)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.bucket", "research-reports")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "deep-research")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// Load reads .env (when present), then the YAML file at path (optional when
// empty), then RESEARCH_* environment overrides, e.g.
// RESEARCH_DATABASE_DRIVER=postgres.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Provider SDK conventions.
	_ = v.BindEnv("llm.genai.api_key", "RESEARCH_LLM_GENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("embeddings.api_key", "RESEARCH_EMBEDDINGS_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Launcher.Kind {
	case "local", "temporal":
	default:
		return fmt.Errorf("config: unknown launcher kind %q", c.Launcher.Kind)
	}
	if c.Research.Breadth < 0 || c.Research.Depth < 0 {
		return fmt.Errorf("config: research breadth and depth must be non-negative")
	}
	switch c.Database.Driver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// Warnings lists settings that load fine but leave part of the service
// inert.
func (c *Config) Warnings() []string {
	var out []string
	if c.Launcher.Kind == "temporal" && !c.Redis.Enabled {
		if c.Launcher.RunWorker {
			out = append(out, "redis is disabled: status events from workers in other processes will not reach this API's event streams")
		} else {
			out = append(out, "launcher is temporal with run_worker=false and redis is disabled: no status events will reach this API's event streams; enable redis")
		}
	}
	return out
}
