// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Embedding     EmbeddingConfig         `mapstructure:"embedding"`
	NLU           NLUConfig               `mapstructure:"nlu"`
	Dialog        DialogConfig            `mapstructure:"dialog"`
	Session       SessionConfig           `mapstructure:"session"`
	Knowledge     KnowledgeConfig         `mapstructure:"knowledge"`
	Feedback      FeedbackConfig          `mapstructure:"feedback"`
	Server        ServerConfig            `mapstructure:"server"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	Plaintext      bool   `mapstructure:"plaintext"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	MaxRetries int      `mapstructure:"max_retries"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// --- NLU Configuration ---

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Provider      string      `mapstructure:"provider"` // ollama | openai | hashing
	BaseURL       string      `mapstructure:"base_url"`
	APIKey        string      `mapstructure:"api_key"`
	Model         string      `mapstructure:"model"`
	Dimension     int         `mapstructure:"dimension"`
	Timeout       int         `mapstructure:"timeout_ms"`
	MaxRetries    int         `mapstructure:"max_retries"`
	MaxInputChars int         `mapstructure:"max_input_chars"`
	Eager         bool        `mapstructure:"eager"`
	Cache         CacheConfig `mapstructure:"cache"`
}

type CacheConfig struct {
	Capacity       int    `mapstructure:"capacity"`
	Persistence    string `mapstructure:"persistence"` // none | sqlite | redis
	Path           string `mapstructure:"path"`
	KeyPrefix      string `mapstructure:"key_prefix"`
	ComputeTimeout int    `mapstructure:"compute_timeout_ms"`
}

type NLUConfig struct {
	DomainFile         string       `mapstructure:"domain_file"`
	SupportedLanguages []string     `mapstructure:"supported_languages"`
	FallbackLanguage   string       `mapstructure:"fallback_language"`
	MinDetectChars     int          `mapstructure:"min_detect_chars"`
	MinDetectScore     float64      `mapstructure:"min_detect_score"`
	MinConfidence      float64      `mapstructure:"min_confidence"`
	TieEpsilon         float64      `mapstructure:"tie_epsilon"`
	ContextBonus       float64      `mapstructure:"context_bonus"`
	Entity             EntityConfig `mapstructure:"entity"`
}

type EntityConfig struct {
	PatternConfidence  float64 `mapstructure:"pattern_confidence"`
	FuzzyFloor         float64 `mapstructure:"fuzzy_floor"`
	FuzzyMaxConfidence float64 `mapstructure:"fuzzy_max_confidence"`
	SemanticFloor      float64 `mapstructure:"semantic_floor"`
	// SemanticMaxConfidence scales semantic similarity into a confidence.
	SemanticMaxConfidence float64 `mapstructure:"semantic_max_confidence"`
	MaxSpanTokens         int     `mapstructure:"max_span_tokens"`
	CorefLookback         int     `mapstructure:"coref_lookback"`
}

type DialogConfig struct {
	GreetingThreshold  float64 `mapstructure:"greeting_threshold"`
	FarewellThreshold  float64 `mapstructure:"farewell_threshold"`
	FallbackContentKey string  `mapstructure:"fallback_content_key"`
}

type SessionConfig struct {
	Store              string  `mapstructure:"store"` // memory | redis
	KeyPrefix          string  `mapstructure:"key_prefix"`
	TTL                int     `mapstructure:"ttl_ms"`
	MaxTurns           int     `mapstructure:"max_turns"`
	MaxTopics          int     `mapstructure:"max_topics"`
	MinMergeConfidence float64 `mapstructure:"min_merge_confidence"`
	LockTimeout        int     `mapstructure:"lock_timeout_ms"`
	// Remembered entities are forgotten after this many turns without a mention;
	// 0 uses max_turns, negative keeps them for the session lifetime.
	EntityMaxTurns int `mapstructure:"entity_max_turns"`
	EntityMaxAge   int `mapstructure:"entity_max_age_ms"` // 0 disables
}

type KnowledgeConfig struct {
	IndexPrefix string `mapstructure:"index_prefix"`
	MaxResults  int    `mapstructure:"max_results"`
	Timeout     int    `mapstructure:"timeout_ms"`
	CacheTTL    int    `mapstructure:"cache_ttl_ms"`
}

type FeedbackConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Table          string `mapstructure:"table"`
	ReloadInterval int    `mapstructure:"reload_interval_ms"`
}

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
