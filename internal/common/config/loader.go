// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml and applies env overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")
	if root := findProjectRoot(); root != "" {
		v.AddConfigPath(filepath.Join(root, "configs"))
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	paths := []string{".env", "../.env", "../../.env", "../../../.env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars replaces ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

func overrideEmptyConfig(cfg *Config) {
	if cfg.Embedding.APIKey == "" {
		if val := os.Getenv("EMBEDDING_API_KEY"); val != "" {
			cfg.Embedding.APIKey = val
		}
	}
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "tourism-assistant"
	}

	// Camunda defaults
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	addresses := cfg.Database.Elasticsearch.Addresses[:0]
	for _, a := range cfg.Database.Elasticsearch.Addresses {
		if strings.TrimSpace(a) != "" {
			addresses = append(addresses, a)
		}
	}
	cfg.Database.Elasticsearch.Addresses = addresses
	if cfg.Database.Elasticsearch.MaxRetries == 0 {
		cfg.Database.Elasticsearch.MaxRetries = 2
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	applyNLUDefaults(cfg)

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}
}

func applyNLUDefaults(cfg *Config) {
	e := &cfg.Embedding
	if e.Provider == "" {
		e.Provider = "hashing"
	}
	if e.Dimension == 0 {
		e.Dimension = 256
	}
	if e.Timeout == 0 {
		e.Timeout = 2000
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 2
	}
	if e.MaxInputChars == 0 {
		e.MaxInputChars = 2000
	}
	if e.Cache.Capacity == 0 {
		e.Cache.Capacity = 5000
	}
	if e.Cache.Persistence == "" {
		e.Cache.Persistence = "none"
	}
	if e.Cache.KeyPrefix == "" {
		e.Cache.KeyPrefix = "nlu:embeddings"
	}
	if e.Cache.ComputeTimeout == 0 {
		e.Cache.ComputeTimeout = 10000
	}

	n := &cfg.NLU
	if n.DomainFile == "" {
		n.DomainFile = "configs/domain.yaml"
	}
	if len(n.SupportedLanguages) == 0 {
		n.SupportedLanguages = []string{"en", "ar", "fr", "de"}
	}
	if n.FallbackLanguage == "" {
		n.FallbackLanguage = "en"
	}
	if n.MinDetectChars == 0 {
		n.MinDetectChars = 4
	}
	if n.MinDetectScore == 0 {
		n.MinDetectScore = 0.15
	}
	if n.MinConfidence == 0 {
		n.MinConfidence = 0.55
	}
	if n.TieEpsilon == 0 {
		n.TieEpsilon = 0.01
	}
	if n.ContextBonus == 0 {
		n.ContextBonus = 0.05
	}
	if n.Entity.PatternConfidence == 0 {
		n.Entity.PatternConfidence = 0.9
	}
	if n.Entity.FuzzyFloor == 0 {
		n.Entity.FuzzyFloor = 0.8
	}
	if n.Entity.FuzzyMaxConfidence == 0 {
		n.Entity.FuzzyMaxConfidence = 0.9
	}
	if n.Entity.SemanticFloor == 0 {
		n.Entity.SemanticFloor = 0.78
	}
	if n.Entity.SemanticMaxConfidence == 0 {
		n.Entity.SemanticMaxConfidence = 0.85
	}
	if n.Entity.MaxSpanTokens == 0 {
		n.Entity.MaxSpanTokens = 3
	}
	if n.Entity.CorefLookback == 0 {
		n.Entity.CorefLookback = 3
	}

	d := &cfg.Dialog
	if d.GreetingThreshold == 0 {
		d.GreetingThreshold = 0.7
	}
	if d.FarewellThreshold == 0 {
		d.FarewellThreshold = 0.7
	}
	if d.FallbackContentKey == "" {
		d.FallbackContentKey = "fallback.generic"
	}

	s := &cfg.Session
	if s.Store == "" {
		s.Store = "memory"
	}
	if s.KeyPrefix == "" {
		s.KeyPrefix = "assistant"
	}
	if s.TTL == 0 {
		s.TTL = 30 * 60 * 1000
	}
	if s.MaxTurns == 0 {
		s.MaxTurns = 20
	}
	if s.MaxTopics == 0 {
		s.MaxTopics = 5
	}
	if s.MinMergeConfidence == 0 {
		s.MinMergeConfidence = 0.6
	}
	if s.LockTimeout == 0 {
		s.LockTimeout = 5000
	}
	if s.EntityMaxTurns == 0 {
		s.EntityMaxTurns = s.MaxTurns
	}

	k := &cfg.Knowledge
	if k.IndexPrefix == "" {
		k.IndexPrefix = "tourism-"
	}
	if k.MaxResults == 0 {
		k.MaxResults = 10
	}
	if k.Timeout == 0 {
		k.Timeout = 5000
	}
	if k.CacheTTL == 0 {
		k.CacheTTL = 5 * 60 * 1000
	}

	if cfg.Feedback.Table == "" {
		cfg.Feedback.Table = "assistant_feedback"
	}
	if cfg.Feedback.ReloadInterval == 0 {
		cfg.Feedback.ReloadInterval = 15 * 60 * 1000
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	switch cfg.Embedding.Provider {
	case "hashing":
	case "ollama", "openai":
		if cfg.Embedding.Model == "" {
			return fmt.Errorf("embedding.model is required for provider %s", cfg.Embedding.Provider)
		}
	default:
		return fmt.Errorf("embedding.provider %q is not supported", cfg.Embedding.Provider)
	}

	switch cfg.Embedding.Cache.Persistence {
	case "none", "redis":
	case "sqlite":
		if cfg.Embedding.Cache.Path == "" {
			return fmt.Errorf("embedding.cache.path is required for sqlite persistence")
		}
	default:
		return fmt.Errorf("embedding.cache.persistence %q is not supported", cfg.Embedding.Cache.Persistence)
	}

	if !contains(cfg.NLU.SupportedLanguages, cfg.NLU.FallbackLanguage) {
		return fmt.Errorf("nlu.fallback_language %q must be one of nlu.supported_languages", cfg.NLU.FallbackLanguage)
	}
	if cfg.NLU.MinConfidence < 0 || cfg.NLU.MinConfidence > 1 {
		return fmt.Errorf("nlu.min_confidence must be within [0,1]")
	}

	switch cfg.Session.Store {
	case "memory":
	case "redis":
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for the redis session store")
		}
	default:
		return fmt.Errorf("session.store %q is not supported", cfg.Session.Store)
	}
	if cfg.Embedding.Cache.Persistence == "redis" && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required for redis cache persistence")
	}

	if cfg.Feedback.Enabled {
		if cfg.Database.Postgres.Host == "" || cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.host and database are required when feedback is enabled")
		}
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
