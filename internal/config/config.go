// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server          ServerConfig           `mapstructure:"server"`
	Log             LogConfig              `mapstructure:"log"`
	Database        DatabaseConfig         `mapstructure:"database"`
	Elasticsearch   ElasticsearchConfig    `mapstructure:"elasticsearch"`
	Vector          VectorConfig           `mapstructure:"vector"`
	Embedding       EmbeddingConfig        `mapstructure:"embedding"`
	LLM             LLMConfig              `mapstructure:"llm"`
	Retry           RetryConfig            `mapstructure:"retry"`
	Session         SessionConfig          `mapstructure:"session"`
	Orchestrator    OrchestratorConfig     `mapstructure:"orchestrator"`
	JWT             JWTConfig              `mapstructure:"jwt"`
	ServiceAccounts []ServiceAccountConfig `mapstructure:"service_accounts"`
	Backend         BackendConfig          `mapstructure:"backend"`
	Kafka           KafkaConfig            `mapstructure:"kafka"`
	MinIO           MinIOConfig            `mapstructure:"minio"`
	Tika            TikaConfig             `mapstructure:"tika"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。DSN 为空时不记录同步元数据。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
// 每个集合对应一个索引: {IndexPrefix}_{collection}。
type ElasticsearchConfig struct {
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexPrefix string `mapstructure:"index_prefix"`
}

// VectorConfig 控制相似度检索。
type VectorConfig struct {
	// Backend 取值 "elasticsearch" 或 "memory"（chromem 内存索引）。
	Backend string `mapstructure:"backend"`
	// Overfetch 为先取超集的倍数，随后按相似度下限过滤。
	Overfetch int                `mapstructure:"overfetch"`
	Floors    map[string]float64 `mapstructure:"floors"`
}

// Floor 返回集合的相似度下限，未配置时返回 0.3。
func (c VectorConfig) Floor(collection string) float64 {
	if f, ok := c.Floors[collection]; ok {
		return f
	}
	return 0.3
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Dimensions    int           `mapstructure:"dimensions"`
	BatchSize     int           `mapstructure:"batch_size"`
	CacheCapacity int64         `mapstructure:"cache_capacity"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	// Provider 取值 "openai" 或 "anthropic"。
	Provider   string              `mapstructure:"provider"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示词。Rules 为空时使用内置的教练提示词。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	ContextTitle string `mapstructure:"context_title"`
}

// RetryConfig 控制外部调用的重试策略（仅针对瞬时错误）。
type RetryConfig struct {
	MaxAttempts     uint          `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// SessionConfig 控制会话存储。
type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	MaxMessages   int           `mapstructure:"max_messages"`
	HistoryWindow int           `mapstructure:"history_window"`
}

// OrchestratorConfig 控制检索上下文的规模。
type OrchestratorConfig struct {
	MaxResultsPerTool int `mapstructure:"max_results_per_tool"`
	SnippetChars      int `mapstructure:"snippet_chars"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                   string `mapstructure:"secret"`
	AccessTokenExpireHours   int    `mapstructure:"access_token_expire_hours"`
	ServiceTokenExpireMinute int    `mapstructure:"service_token_expire_minutes"`
}

// ServiceAccountConfig 描述一个内部服务账号，SecretHash 为 bcrypt 哈希。
type ServiceAccountConfig struct {
	ClientID   string   `mapstructure:"client_id"`
	SecretHash string   `mapstructure:"secret_hash"`
	Scopes     []string `mapstructure:"scopes"`
}

// BackendConfig 描述训练数据的权威来源服务。
type BackendConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ServiceToken string        `mapstructure:"service_token"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	KnowledgePrefix string `mapstructure:"knowledge_prefix"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// Default 返回填充了全部默认值的配置，测试可直接使用。
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		panic(fmt.Errorf("无法解析默认配置: %w", err))
	}
	return c
}

func setDefaults(v *viper.Viper) {
	// 密钥类键需要显式注册，AutomaticEnv 才能在 Unmarshal 时覆盖它们
	for _, key := range []string{"embedding.api_key", "llm.api_key", "jwt.secret", "backend.service_token", "database.mysql.dsn", "database.redis.password", "minio.secret_access_key"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.index_prefix", "gym")
	v.SetDefault("vector.backend", "elasticsearch")
	v.SetDefault("vector.overfetch", 2)
	v.SetDefault("vector.floors", map[string]float64{
		"exercises": 0.3,
		"workouts":  0.3,
		"knowledge": 0.4,
	})
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.cache_capacity", 10000)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.generation.temperature", 0.7)
	v.SetDefault("llm.generation.max_tokens", 1000)
	v.SetDefault("llm.prompt.context_title", "Context from knowledge base:")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_interval", 2*time.Second)
	v.SetDefault("retry.max_interval", 10*time.Second)
	v.SetDefault("session.ttl", 7200*time.Second)
	v.SetDefault("session.max_messages", 50)
	v.SetDefault("session.history_window", 5)
	v.SetDefault("orchestrator.max_results_per_tool", 3)
	v.SetDefault("orchestrator.snippet_chars", 250)
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.service_token_expire_minutes", 60)
	v.SetDefault("backend.base_url", "http://localhost:8080")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("kafka.topic", "gym-sync")
	v.SetDefault("kafka.group_id", "gym-coach-sync")
	v.SetDefault("minio.bucket_name", "gym-knowledge")
	v.SetDefault("minio.knowledge_prefix", "knowledge/")
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量 GYMCOACH_<SECTION>_<KEY> 会覆盖文件中的值。
func Init(configPath string) {
	c, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = c
}

// Load 读取配置文件但不修改全局变量。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GYMCOACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return c, nil
}
