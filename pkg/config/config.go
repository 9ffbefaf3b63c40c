package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	SQLite       SQLiteConfig
	Milvus       MilvusConfig
	LLM          LLMConfig
	NLQ          BackendConfig
	Forecast     BackendConfig
	Orchestrator OrchestratorConfig
	Benchmark    BenchmarkConfig
	Enhancer     EnhancerConfig
	Eval         EvalConfig
	Resolver     ResolverConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type LLMConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
}

// BackendConfig covers the HTTP analytical collaborators (structured-query
// and forecasting/anomaly services).
type BackendConfig struct {
	BaseURL    string
	TimeoutSec int
	// SchemaRef names the dataset schema the structured-query service
	// should target; unused by the forecast service.
	SchemaRef string
}

type OrchestratorConfig struct {
	RequestBudgetSec  int
	BackendTimeoutSec int
	MaxRetries        int
	FollowUpWindow    int
	SessionTTLMin     int
}

type BenchmarkConfig struct {
	MinSampleSize int
	// Markets the internal comparator recognizes in questions.
	Markets []string
	// DefaultMode left empty means a bare "benchmark" question always
	// triggers the internal-vs-industry clarification.
	DefaultMode string
}

type EnhancerConfig struct {
	ChartGeneration bool
	RankedListCap   int
}

type EvalConfig struct {
	Tier3SampleRate float64
}

type ResolverConfig struct {
	AutoConfirmThreshold float64
	MaxVariants          int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c OrchestratorConfig) RequestBudget() time.Duration {
	return time.Duration(c.RequestBudgetSec) * time.Second
}

func (c OrchestratorConfig) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSec) * time.Second
}

func (c OrchestratorConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMin) * time.Minute
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/campaigniq")

	viper.SetEnvPrefix("CAMPAIGNIQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 310)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("sqlite.path", "./data/campaigniq.db")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "industry_benchmarks")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-large")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)

	viper.SetDefault("nlq.baseURL", "http://localhost:8091")
	viper.SetDefault("nlq.timeoutSec", 90)
	viper.SetDefault("nlq.schemaRef", "campaign_events_v1")

	viper.SetDefault("forecast.baseURL", "http://localhost:8092")
	viper.SetDefault("forecast.timeoutSec", 90)

	viper.SetDefault("orchestrator.requestBudgetSec", 300)
	viper.SetDefault("orchestrator.backendTimeoutSec", 90)
	viper.SetDefault("orchestrator.maxRetries", 2)
	viper.SetDefault("orchestrator.followUpWindow", 5)
	viper.SetDefault("orchestrator.sessionTTLMin", 30)

	viper.SetDefault("benchmark.minSampleSize", 100)
	viper.SetDefault("benchmark.markets", []string{"germany", "france", "uk", "spain", "italy", "nordics"})
	viper.SetDefault("benchmark.defaultMode", "")

	viper.SetDefault("enhancer.chartGeneration", false)
	viper.SetDefault("enhancer.rankedListCap", 10)

	viper.SetDefault("eval.tier3SampleRate", 0.05)

	viper.SetDefault("resolver.autoConfirmThreshold", 0.9)
	viper.SetDefault("resolver.maxVariants", 16)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
