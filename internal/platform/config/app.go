package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"queryfed/internal/domain/federation"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel   string           `json:"log_level"`
	LogFormat  string           `json:"log_format"`
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Mongo      MongoConfig      `json:"mongo"`
	Redis      RedisConfig      `json:"redis"`
	OpenSearch OpenSearchConfig `json:"opensearch"`
	Auth       AuthConfig       `json:"auth"`
	OpenAI     OpenAIConfig     `json:"openai"`
	LLM        LLMConfig        `json:"llm"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Federation FederationConfig `json:"federation"`
	Search     SearchConfig     `json:"search"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

type MongoConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type OpenSearchConfig struct {
	URL         string   `json:"url"`
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Index       string   `json:"index"`
	TextFields  []string `json:"text_fields"`
	VectorField string   `json:"vector_field"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// LLMConfig 分类与查询生成共用的模型配置
type LLMConfig struct {
	Provider        string `json:"provider"`
	GeneratorModel  string `json:"generator_model"`
	ClassifierModel string `json:"classifier_model"`
}

type EmbeddingConfig struct {
	Model string `json:"model"`
	Dims  int    `json:"dims"`
}

// FederationConfig 联邦执行参数，JSON/env 用秒表达超时
type FederationConfig struct {
	MaxRows              int `json:"max_rows"`
	TimeoutSeconds       int `json:"timeout_seconds"`
	RRFK                 int `json:"rrf_k"`
	RequestBudgetSeconds int `json:"request_budget_seconds"`
	HybridTopK           int `json:"hybrid_top_k"`
	SchemaCacheTTL       int `json:"schema_cache_ttl"`
	AnswerCacheTTL       int `json:"answer_cache_ttl"`
}

// SearchConfig Postgres 侧排名检索的目标表
type SearchConfig struct {
	Table           string   `json:"table"`
	IDColumn        string   `json:"id_column"`
	TextColumns     []string `json:"text_columns"`
	EmbeddingColumn string   `json:"embedding_column"`
}

// ToFederation 秒配置 → 运行时 Config
func (f FederationConfig) ToFederation() federation.Config {
	return federation.Config{
		MaxRows:       f.MaxRows,
		Timeout:       time.Duration(f.TimeoutSeconds) * time.Second,
		RRFK:          f.RRFK,
		RequestBudget: time.Duration(f.RequestBudgetSeconds) * time.Second,
		HybridTopK:    f.HybridTopK,
	}
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 120,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Mongo: MongoConfig{
			Database: "appdata",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		LLM: LLMConfig{
			Provider:        "openai",
			GeneratorModel:  "gpt-4o-mini",
			ClassifierModel: "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			Model: "text-embedding-3-small",
			Dims:  1536,
		},
		Federation: FederationConfig{
			MaxRows:              100,
			TimeoutSeconds:       10,
			RRFK:                 60,
			RequestBudgetSeconds: 30,
			HybridTopK:           20,
			SchemaCacheTTL:       300,
			AnswerCacheTTL:       300,
		},
		Search: SearchConfig{
			Table:           "documents",
			IDColumn:        "id",
			TextColumns:     []string{"title", "content"},
			EmbeddingColumn: "embedding",
		},
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		// .env 非必需，忽略错误
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("MONGO_URI", &c.Mongo.URI)
	applyString("MONGO_DATABASE", &c.Mongo.Database)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("OPENSEARCH_URL", &c.OpenSearch.URL)
	applyString("OPENSEARCH_USERNAME", &c.OpenSearch.Username)
	applyString("OPENSEARCH_PASSWORD", &c.OpenSearch.Password)
	applyString("OPENSEARCH_INDEX", &c.OpenSearch.Index)
	applyString("OPENSEARCH_VECTOR_FIELD", &c.OpenSearch.VectorField)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)

	applyString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	applyString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)

	applyString("LLM_PROVIDER", &c.LLM.Provider)
	applyString("LLM_GENERATOR_MODEL", &c.LLM.GeneratorModel)
	applyString("LLM_CLASSIFIER_MODEL", &c.LLM.ClassifierModel)

	applyString("EMBEDDING_MODEL", &c.Embedding.Model)
	applyInt("EMBEDDING_DIMS", &c.Embedding.Dims)

	applyInt("FEDERATION_MAX_ROWS", &c.Federation.MaxRows)
	applyInt("FEDERATION_TIMEOUT", &c.Federation.TimeoutSeconds)
	applyInt("FEDERATION_RRF_K", &c.Federation.RRFK)
	applyInt("FEDERATION_REQUEST_BUDGET", &c.Federation.RequestBudgetSeconds)
	applyInt("FEDERATION_HYBRID_TOP_K", &c.Federation.HybridTopK)
	applyInt("FEDERATION_SCHEMA_CACHE_TTL", &c.Federation.SchemaCacheTTL)
	applyInt("FEDERATION_ANSWER_CACHE_TTL", &c.Federation.AnswerCacheTTL)

	applyString("SEARCH_TABLE", &c.Search.Table)
	applyString("SEARCH_ID_COLUMN", &c.Search.IDColumn)
	applyString("SEARCH_EMBEDDING_COLUMN", &c.Search.EmbeddingColumn)
	if v := os.Getenv("SEARCH_TEXT_COLUMNS"); v != "" {
		c.Search.TextColumns = splitCSV(v)
	}
	if v := os.Getenv("OPENSEARCH_TEXT_FIELDS"); v != "" {
		c.OpenSearch.TextFields = splitCSV(v)
	}
}

func (c *AppConfig) normalize() {
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.ClassifierModel == "" {
		c.LLM.ClassifierModel = c.LLM.GeneratorModel
	}
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	return nil
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
