package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/persona-lens/backend/internal/retry"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Corpus    CorpusConfig
	Engine    EngineConfig
	AI        AIConfig
	Embedding EmbeddingConfig
	Retry     RetryConfig
	Session   SessionConfig
	Feedback  FeedbackConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	engine, err := loadEngineConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	embedding, err := loadEmbeddingConfig(ai)
	if err != nil {
		return nil, err
	}

	retryCfg, err := loadRetryConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	feedback, err := loadFeedbackConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Corpus:    CorpusConfig{Path: getEnvOrDefault("PERSONA_CORPUS_PATH", "data/personas.json")},
		Engine:    engine,
		AI:        ai,
		Embedding: embedding,
		Retry:     retryCfg,
		Session:   session,
		Feedback:  feedback,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr     string
	LogLevel string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	level := getEnvOrDefault("LOG_LEVEL", "info")

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, LogLevel: level}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, goerr.New("invalid PORT value", goerr.V("port", port))
	}

	return ServerConfig{Addr: ":" + port, LogLevel: level}, nil
}

// CorpusConfig 指向人设语料文件。
type CorpusConfig struct {
	Path string
}

// EngineConfig 描述检索与聚类参数。
type EngineConfig struct {
	TopK          int
	ClusterCount  int
	Seed          uint64
	MaxIterations int
	UnknownLabel  string
}

func loadEngineConfig() (EngineConfig, error) {
	topK, err := parseIntEnv("ENGINE_TOP_K", 50)
	if err != nil {
		return EngineConfig{}, err
	}
	if topK < 1 {
		return EngineConfig{}, goerr.New("ENGINE_TOP_K must be positive", goerr.V("value", topK))
	}

	clusters, err := parseIntEnv("ENGINE_CLUSTER_COUNT", 3)
	if err != nil {
		return EngineConfig{}, err
	}
	if clusters < 1 {
		return EngineConfig{}, goerr.New("ENGINE_CLUSTER_COUNT must be positive", goerr.V("value", clusters))
	}

	maxIter, err := parseIntEnv("ENGINE_MAX_ITERATIONS", 100)
	if err != nil {
		return EngineConfig{}, err
	}

	seed := uint64(42)
	if raw := strings.TrimSpace(os.Getenv("ENGINE_SEED")); raw != "" {
		seed, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return EngineConfig{}, goerr.Wrap(err, "invalid ENGINE_SEED value", goerr.V("value", raw))
		}
	}

	return EngineConfig{
		TopK:          topK,
		ClusterCount:  clusters,
		Seed:          seed,
		MaxIterations: maxIter,
		// 不去除空白，允许显式配置 "Unknown" 之类的标签
		UnknownLabel: os.Getenv("ENGINE_UNKNOWN_LABEL"),
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, goerr.New("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create ark chat model")
	}
	return chatModel, nil
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// EmbeddingConfig 描述向量化服务配置，Ark 凭证默认复用 AIConfig。
type EmbeddingConfig struct {
	Provider     string
	Model        string
	APIKey       string
	AccessKey    string
	SecretKey    string
	BaseURL      string
	Region       string
	GeminiAPIKey string
	Dimensions   int
	CacheSize    int
}

func loadEmbeddingConfig(ai AIConfig) (EmbeddingConfig, error) {
	dims, err := parseIntEnv("EMBEDDING_DIMENSIONS", 0)
	if err != nil {
		return EmbeddingConfig{}, err
	}
	if dims < 0 {
		return EmbeddingConfig{}, goerr.New("EMBEDDING_DIMENSIONS must not be negative", goerr.V("value", dims))
	}

	cacheSize, err := parseIntEnv("EMBEDDING_CACHE_SIZE", 1024)
	if err != nil {
		return EmbeddingConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", "ark"))
	switch provider {
	case "ark", "gemini":
	default:
		return EmbeddingConfig{}, goerr.New("unsupported EMBEDDING_PROVIDER", goerr.V("value", provider))
	}

	return EmbeddingConfig{
		Provider:     provider,
		Model:        strings.TrimSpace(os.Getenv("EMBEDDING_MODEL")),
		APIKey:       ai.APIKey,
		AccessKey:    ai.AccessKey,
		SecretKey:    ai.SecretKey,
		BaseURL:      ai.BaseURL,
		Region:       ai.Region,
		GeminiAPIKey: strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Dimensions:   dims,
		CacheSize:    cacheSize,
	}, nil
}

// RetryConfig 描述上游调用的重试策略。
type RetryConfig struct {
	Attempts    int
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Policy 转换为 retry 包使用的策略。
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		Attempts:    c.Attempts,
		MinInterval: c.MinInterval,
		MaxInterval: c.MaxInterval,
	}
}

func loadRetryConfig() (RetryConfig, error) {
	def := retry.DefaultPolicy()

	attempts, err := parseIntEnv("UPSTREAM_RETRY_ATTEMPTS", def.Attempts)
	if err != nil {
		return RetryConfig{}, err
	}
	if attempts < 1 {
		return RetryConfig{}, goerr.New("UPSTREAM_RETRY_ATTEMPTS must be positive", goerr.V("value", attempts))
	}

	minInterval, err := parseDurationEnv("UPSTREAM_RETRY_MIN_INTERVAL", def.MinInterval)
	if err != nil {
		return RetryConfig{}, err
	}

	maxInterval, err := parseDurationEnv("UPSTREAM_RETRY_MAX_INTERVAL", def.MaxInterval)
	if err != nil {
		return RetryConfig{}, err
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	return RetryConfig{Attempts: attempts, MinInterval: minInterval, MaxInterval: maxInterval}, nil
}

// SessionConfig 控制会话空闲过期。
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseDurationEnv("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}

	sweep, err := parseDurationEnv("SESSION_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	if sweep <= 0 {
		return SessionConfig{}, goerr.New("SESSION_SWEEP_INTERVAL must be positive", goerr.V("value", sweep))
	}

	return SessionConfig{IdleTTL: ttl, SweepInterval: sweep}, nil
}

// 反馈缓存后端
const (
	FeedbackCacheMemory = "memory"
	FeedbackCacheRedis  = "redis"
)

// FeedbackConfig 描述反馈缓存与并发配置。
type FeedbackConfig struct {
	Cache         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	MaxInFlight   int
	MaxBatch      int
}

func loadFeedbackConfig() (FeedbackConfig, error) {
	cache := strings.ToLower(getEnvOrDefault("FEEDBACK_CACHE", FeedbackCacheMemory))
	if cache != FeedbackCacheMemory && cache != FeedbackCacheRedis {
		return FeedbackConfig{}, goerr.New("unsupported FEEDBACK_CACHE", goerr.V("value", cache))
	}

	db, err := parseIntEnv("REDIS_DB", 0)
	if err != nil {
		return FeedbackConfig{}, err
	}

	ttl, err := parseDurationEnv("FEEDBACK_CACHE_TTL", 0)
	if err != nil {
		return FeedbackConfig{}, err
	}

	inFlight, err := parseIntEnv("FEEDBACK_MAX_IN_FLIGHT", 4)
	if err != nil {
		return FeedbackConfig{}, err
	}
	if inFlight < 1 {
		inFlight = 1
	}

	maxBatch, err := parseIntEnv("FEEDBACK_MAX_BATCH", 50)
	if err != nil {
		return FeedbackConfig{}, err
	}
	if maxBatch < 1 {
		return FeedbackConfig{}, goerr.New("FEEDBACK_MAX_BATCH must be positive", goerr.V("value", maxBatch))
	}

	cfg := FeedbackConfig{
		Cache:         cache,
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       db,
		TTL:           ttl,
		MaxInFlight:   inFlight,
		MaxBatch:      maxBatch,
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid duration", goerr.V("key", key), goerr.V("value", raw))
	}
	if val < 0 {
		return 0, goerr.New("duration must not be negative", goerr.V("key", key), goerr.V("value", raw))
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid float", goerr.V("key", key), goerr.V("value", value))
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid integer", goerr.V("key", key), goerr.V("value", value))
	}
	return &val, nil
}
