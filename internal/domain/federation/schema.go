package federation

import (
	"context"
	"sync"
	"time"

	applog "queryfed/internal/platform/log"
)

// SchemaProvider 后端 schema 描述提供者。纯读，不修改后端状态。
type SchemaProvider interface {
	// Describe 生成当前 schema 快照
	Describe(ctx context.Context) (*SchemaDescription, error)
}

// SchemaCacheStore 可选的外部缓存（如 Redis）
type SchemaCacheStore interface {
	Get(ctx context.Context, backend Backend) (*SchemaDescription, bool)
	Set(ctx context.Context, schema *SchemaDescription)
}

// CachedSchemaProvider 带 TTL 的 schema 提供者包装。
// 进程内缓存优先，外部缓存可选；快照从不原地修改，过期即重新内省。
type CachedSchemaProvider struct {
	backend Backend
	inner   SchemaProvider
	store   SchemaCacheStore // 可选
	ttl     time.Duration

	mu        sync.RWMutex
	cached    *SchemaDescription
	fetchedAt time.Time
}

// NewCachedSchemaProvider 包装 provider，ttl<=0 时默认 5 分钟
func NewCachedSchemaProvider(backend Backend, inner SchemaProvider, store SchemaCacheStore, ttl time.Duration) *CachedSchemaProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSchemaProvider{backend: backend, inner: inner, store: store, ttl: ttl}
}

// Describe 返回缓存的快照，过期则重新内省
func (p *CachedSchemaProvider) Describe(ctx context.Context) (*SchemaDescription, error) {
	p.mu.RLock()
	if p.cached != nil && time.Since(p.fetchedAt) < p.ttl {
		s := p.cached
		p.mu.RUnlock()
		return s, nil
	}
	p.mu.RUnlock()

	if p.store != nil {
		if s, ok := p.store.Get(ctx, p.backend); ok {
			p.remember(s)
			return s, nil
		}
	}

	s, err := p.inner.Describe(ctx)
	if err != nil {
		return nil, err
	}
	p.remember(s)

	if p.store != nil {
		p.store.Set(ctx, s)
	}

	applog.Debug("[Schema] Snapshot refreshed", "backend", s.Backend, "entities", len(s.Entities))
	return s, nil
}

func (p *CachedSchemaProvider) remember(s *SchemaDescription) {
	p.mu.Lock()
	p.cached = s
	p.fetchedAt = time.Now()
	p.mu.Unlock()
}
