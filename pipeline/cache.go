package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/retrieval"
)

// CacheConfig 结果缓存配置。
type CacheConfig struct {
	// Enabled 是否启用缓存
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Addr Redis 地址
	Addr string `json:"addr" yaml:"addr"`
	// Password 密码
	Password string `json:"password" yaml:"password"`
	// DB 数据库编号
	DB int `json:"db" yaml:"db"`
	// TTL 缓存过期时间
	TTL time.Duration `json:"ttl" yaml:"ttl"`
	// TimeBucket 参考时间的量化粒度，同一桶内的查询共享缓存键
	TimeBucket time.Duration `json:"time_bucket" yaml:"time_bucket"`
	// PoolSize 连接池大小
	PoolSize int `json:"pool_size" yaml:"pool_size"`
}

// DefaultCacheConfig 返回默认缓存配置。
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:    false,
		Addr:       "localhost:6379",
		TTL:        5 * time.Minute,
		TimeBucket: time.Minute,
		PoolSize:   10,
	}
}

// ResultCache 基于 Redis 的读穿结果缓存。
// 键由 (query, namespace, 参考时间桶) 派生，TTL 过期失效，
// 除读穿之外不引入任何更复杂的锁协议。
type ResultCache struct {
	client *redis.Client
	cfg    CacheConfig
	logger *zap.Logger
}

// NewResultCache 创建结果缓存并验证连接。
func NewResultCache(cfg CacheConfig, logger *zap.Logger) (*ResultCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &ResultCache{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "result_cache")),
	}, nil
}

// Key 计算查询的缓存键。参考时间量化到 TimeBucket 粒度。
// 中心实体参与散列：它影响图谱检索的邻近偏置排序，
// 不同中心实体的查询不能共享缓存条目。
func (c *ResultCache) Key(qc retrieval.QueryContext, referenceTime time.Time) string {
	bucket := referenceTime.Truncate(c.cfg.TimeBucket).Unix()
	sum := sha256.Sum256([]byte(qc.Query + "\x00" + qc.CenterEntityID))
	return fmt.Sprintf("fusionrag:result:%s:%s:%d", hex.EncodeToString(sum[:16]), qc.Namespace, bucket)
}

// Get 查找缓存结果，未命中或反序列化失败返回 (nil, false)。
// 缓存故障只记录告警，绝不影响查询本身。
func (c *ResultCache) Get(ctx context.Context, qc retrieval.QueryContext, referenceTime time.Time) (*Result, bool) {
	key := c.Key(qc, referenceTime)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("cache entry corrupted, ignoring", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	result.CacheHit = true
	return &result, true
}

// Set 写入缓存结果，失败只记录告警。
func (c *ResultCache) Set(ctx context.Context, qc retrieval.QueryContext, referenceTime time.Time, result *Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.Error(err))
		return
	}
	key := c.Key(qc, referenceTime)
	if err := c.client.Set(ctx, key, data, c.cfg.TTL).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Close 关闭底层 Redis 连接。
func (c *ResultCache) Close() error {
	return c.client.Close()
}
