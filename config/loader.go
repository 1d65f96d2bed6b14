// =============================================================================
// 📦 FusionRAG 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("FUSIONRAG").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 FusionRAG 的完整配置结构
type Config struct {
	// Pipeline 编排器配置
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Fusion 融合引擎配置
	Fusion FusionConfig `yaml:"fusion" env:"FUSION"`

	// Assembler 上下文组装配置
	Assembler AssemblerConfig `yaml:"assembler" env:"ASSEMBLER"`

	// Cache 结果缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Embedding 嵌入提供者配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Rerank 外部重排提供者配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// PipelineConfig 编排器配置
type PipelineConfig struct {
	// 向量检索 top-K
	VectorTopK int `yaml:"vector_top_k" env:"VECTOR_TOP_K"`
	// 图谱检索 top-K
	GraphTopK int `yaml:"graph_top_k" env:"GRAPH_TOP_K"`
	// 单个适配器超时
	AdapterTimeout time.Duration `yaml:"adapter_timeout" env:"ADAPTER_TIMEOUT"`
	// 整个查询的外层截止时间
	QueryTimeout time.Duration `yaml:"query_timeout" env:"QUERY_TIMEOUT"`
	// Prometheus 指标命名空间
	MetricsNamespace string `yaml:"metrics_namespace" env:"METRICS_NAMESPACE"`
}

// FusionConfig 融合引擎配置
type FusionConfig struct {
	// 策略: rrf, mmr, rerank
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// 融合输出 top-K
	TopK int `yaml:"top_k" env:"TOP_K"`
	// RRF 常数 k
	RRFK int `yaml:"rrf_k" env:"RRF_K"`
	// MMR λ 参数
	MMRLambda float64 `yaml:"mmr_lambda" env:"MMR_LAMBDA"`
	// 合并策略: cross_ref, never
	MergePolicy string `yaml:"merge_policy" env:"MERGE_POLICY"`
}

// AssemblerConfig 上下文组装配置
type AssemblerConfig struct {
	// 最大证据条数
	MaxItems int `yaml:"max_items" env:"MAX_ITEMS"`
	// 字符预算
	MaxChars int `yaml:"max_chars" env:"MAX_CHARS"`
	// Token 预算
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// tiktoken 编码名，空表示字符估算
	TokenEncoding string `yaml:"token_encoding" env:"TOKEN_ENCODING"`
}

// CacheConfig 结果缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 参考时间量化粒度
	TimeBucket time.Duration `yaml:"time_bucket" env:"TIME_BUCKET"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// EmbeddingConfig 嵌入提供者配置
type EmbeddingConfig struct {
	// 提供者: local, openai
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名
	Model string `yaml:"model" env:"MODEL"`
	// 输出维度
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RerankConfig 外部重排提供者配置
type RerankConfig struct {
	// 提供者: none, cohere
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 每秒请求数限流
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// 限流突发容量
	Burst int `yaml:"burst" env:"BURST"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// HTTP 服务端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Prometheus 指标端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 单 IP 限流速率（请求/秒），0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FUSIONRAG",
		validators: DefaultValidators(),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
