package redisdb

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"queryfed/internal/domain/federation"
	applog "queryfed/internal/platform/log"
)

// ── Schema 快照缓存 ──────────────────────────────────────────

// SchemaCache 后端 schema 快照的 Redis 缓存
type SchemaCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewSchemaCache 创建 schema 缓存，ttlSeconds<=0 时默认 5 分钟
func NewSchemaCache(rdb *redis.Client, ttlSeconds int) *SchemaCache {
	ttl := 5 * time.Minute
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &SchemaCache{redis: rdb, ttl: ttl, prefix: "fed:schema:"}
}

// Get 读取快照
func (c *SchemaCache) Get(ctx context.Context, backend federation.Backend) (*federation.SchemaDescription, bool) {
	data, err := c.redis.Get(ctx, c.prefix+string(backend)).Bytes()
	if err != nil {
		return nil, false
	}
	var schema federation.SchemaDescription
	if err := json.Unmarshal(data, &schema); err != nil {
		applog.Warn("[Cache/Schema] Failed to unmarshal cached schema", "error", err)
		return nil, false
	}
	return &schema, true
}

// Set 写入快照
func (c *SchemaCache) Set(ctx context.Context, schema *federation.SchemaDescription) {
	data, err := json.Marshal(schema)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.prefix+string(schema.Backend), data, c.ttl).Err(); err != nil {
		applog.Warn("[Cache/Schema] Failed to set cache", "backend", schema.Backend, "error", err)
	}
}

// ── 混合检索结果缓存 ─────────────────────────────────────────

// AnswerCache 融合结果的 Redis 缓存，key = hash(question)
type AnswerCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewAnswerCache 创建结果缓存
func NewAnswerCache(rdb *redis.Client, ttlSeconds int) *AnswerCache {
	ttl := 5 * time.Minute
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &AnswerCache{redis: rdb, ttl: ttl, prefix: "fed:answer:"}
}

// Get 读取融合结果
func (c *AnswerCache) Get(ctx context.Context, question string) (*federation.FusedResult, bool) {
	key := c.key(question)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var result federation.FusedResult
	if err := json.Unmarshal(data, &result); err != nil {
		applog.Warn("[Cache/Answer] Failed to unmarshal cached result", "error", err)
		return nil, false
	}
	applog.Debug("[Cache/Answer] Hit", "key", key)
	return &result, true
}

// Set 写入融合结果
func (c *AnswerCache) Set(ctx context.Context, question string, result *federation.FusedResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.key(question), data, c.ttl).Err(); err != nil {
		applog.Warn("[Cache/Answer] Failed to set cache", "error", err)
	}
}

func (c *AnswerCache) key(question string) string {
	sum := sha256.Sum256([]byte(question))
	return c.prefix + fmt.Sprintf("%x", sum[:16])
}
