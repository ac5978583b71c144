package federation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	applog "queryfed/internal/platform/log"
)

// AnswerCacheStore 混合检索结果的可选缓存
type AnswerCacheStore interface {
	Get(ctx context.Context, question string) (*FusedResult, bool)
	Set(ctx context.Context, question string, result *FusedResult)
}

// Gateway 联邦查询编排器：分类 → 生成 → 校验 → 执行 →（融合）。
// 每次调用无状态，只在单次 execute 期间借用后端连接，可安全并发。
type Gateway struct {
	cfg        Config
	executors  *ExecutorSet
	schemas    map[Backend]SchemaProvider
	generator  *Generator
	classifier *Classifier
	embedder   Embedder         // 可选：缺失时向量源降级
	cache      AnswerCacheStore // 可选
}

// NewGateway 创建联邦网关。配置显式传入，不读全局状态。
func NewGateway(cfg Config, executors *ExecutorSet, schemas map[Backend]SchemaProvider, gen *Generator, cls *Classifier) *Gateway {
	return &Gateway{
		cfg:        cfg.normalized(),
		executors:  executors,
		schemas:    schemas,
		generator:  gen,
		classifier: cls,
	}
}

// SetEmbedder 设置 Embedder（启用向量排名源）
func (g *Gateway) SetEmbedder(e Embedder) { g.embedder = e }

// SetCache 设置混合检索结果缓存
func (g *Gateway) SetCache(c AnswerCacheStore) { g.cache = c }

// Answer 联邦查询唯一入口。
// hint 为空时由分类器决定后端；显式 hint 永远优先。
// 非混合问题恰好执行一个后端，不做扇出。
func (g *Gateway) Answer(ctx context.Context, question string, hint Backend) (*Answer, error) {
	// 端到端预算优先于单源超时，先到先生效
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestBudget)
	defer cancel()

	requestID := uuid.NewString()

	backend := hint
	if backend == "" {
		var err error
		backend, err = g.classifier.Classify(ctx, question)
		if err != nil {
			return nil, err
		}
	} else if _, ok := ParseBackend(string(hint)); !ok {
		return nil, NewError(KindClassificationFailed, fmt.Sprintf("unknown backend hint %q", hint), nil)
	}

	applog.Info("[Federation] Question accepted", "request_id", requestID, "backend", backend, "hinted", hint != "")

	var answer *Answer
	var err error
	if backend == BackendVector {
		answer, err = g.answerRanked(ctx, question)
	} else {
		answer, err = g.answerTabular(ctx, question, backend)
	}
	if err != nil {
		return nil, err
	}
	answer.RequestID = requestID
	return answer, nil
}

// ── 表格路径：生成 → 校验 → 执行 ─────────────────────────────

func (g *Gateway) answerTabular(ctx context.Context, question string, backend Backend) (*Answer, error) {
	executor, ok := g.executors.Get(backend)
	if !ok {
		return nil, NewError(KindConnectionUnavailable, fmt.Sprintf("no executor for backend %q", backend), nil)
	}
	dialect, _ := g.executors.DialectFor(backend)

	schemaProvider, ok := g.schemas[backend]
	if !ok {
		return nil, NewError(KindConnectionUnavailable, fmt.Sprintf("no schema provider for backend %q", backend), nil)
	}
	schema, err := schemaProvider.Describe(ctx)
	if err != nil {
		return nil, NewError(KindConnectionUnavailable, "schema introspection failed", err)
	}

	candidate, err := g.generateChecked(ctx, question, schema, dialect)
	if err != nil {
		return nil, err
	}

	// 校验无条件先于执行；被拒绝的查询永不执行
	execCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	result, err := executor.Execute(execCtx, candidate, g.cfg.MaxRows)
	if err != nil {
		return nil, err
	}

	applog.Info("[Federation] Tabular answer", "backend", backend, "rows", len(result.Rows))

	return &Answer{
		Kind:    AnswerTabular,
		Backend: backend,
		Query:   candidate,
		Table:   result,
	}, nil
}

// generateChecked 生成 + 校验。
// 生成不可用时在网关层重试一次；校验拒绝后带原因再生成一次，
// 第二次拒绝原样上抛，绝不静默降级为"空结果"。
func (g *Gateway) generateChecked(ctx context.Context, question string, schema *SchemaDescription, dialect Dialect) (CandidateQuery, error) {
	candidate, err := g.generator.Generate(ctx, question, schema, dialect, "")
	if err != nil && KindOf(err) == KindGenerationUnavailable {
		applog.Warn("[Federation] Generation unavailable, retrying once", "error", err)
		candidate, err = g.generator.Generate(ctx, question, schema, dialect, "")
	}
	if err != nil {
		return CandidateQuery{}, err
	}

	verdict := Validate(candidate)
	if verdict.Accepted {
		return candidate, nil
	}

	applog.Warn("[Federation] Candidate rejected, regenerating with feedback",
		"reason", verdict.Reason, "detail", verdict.Detail)

	feedback := fmt.Sprintf("%s (%s)", verdict.Reason, verdict.Detail)
	candidate, err = g.generator.Generate(ctx, question, schema, dialect, feedback)
	if err != nil {
		return CandidateQuery{}, err
	}

	verdict = Validate(candidate)
	if !verdict.Accepted {
		return CandidateQuery{}, NewRejection(verdict.Reason, verdict.Detail)
	}
	return candidate, nil
}

// ── 排名路径：并发扇出 → RRF 融合 ────────────────────────────

func (g *Gateway) answerRanked(ctx context.Context, question string) (*Answer, error) {
	sources := g.executors.RankedSources()
	if len(sources) == 0 {
		return nil, NewError(KindConnectionUnavailable, "no ranked sources configured", nil)
	}

	executed := CandidateQuery{Dialect: DialectVectorSemantic, Text: question}
	if verdict := Validate(executed); !verdict.Accepted {
		return nil, NewRejection(verdict.Reason, verdict.Detail)
	}

	if g.cache != nil {
		if cached, ok := g.cache.Get(ctx, question); ok {
			applog.Debug("[Federation] Ranked answer served from cache")
			return &Answer{Kind: AnswerRanked, Backend: BackendVector, Query: executed, Ranked: cached}, nil
		}
	}

	// 问题 → 查询向量。失败时只降级向量源，词法源照常工作。
	var vector []float32
	if g.embedder != nil {
		embedCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		v, err := g.embedder.Embed(embedCtx, question)
		cancel()
		if err != nil {
			applog.Warn("[Federation] Embedding failed, vector sources degraded", "error", err)
		} else {
			vector = v
		}
	}

	vq := VectorQuery{
		Text:     question,
		Vector:   vector,
		Distance: "cosine",
		TopK:     g.cfg.HybridTopK,
	}

	// 并发扇出：整体延迟受限于最慢的单个源而不是各源之和。
	// 单个源超时/失败只损失该源的列表，不中止联邦请求。
	type sourceResult struct {
		name string
		list RankedList
		err  error
	}
	resultCh := make(chan sourceResult, len(sources))

	for _, src := range sources {
		go func(src RankedSource) {
			callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
			defer cancel()
			list, err := src.SearchRanked(callCtx, vq)
			resultCh <- sourceResult{name: src.Name(), list: list, err: err}
		}(src)
	}

	lists := make([]RankedList, 0, len(sources))
	for range sources {
		r := <-resultCh
		if r.err != nil {
			applog.Warn("[Federation] Ranked source degraded", "source", r.name, "error", r.err)
			continue
		}
		lists = append(lists, TruncateRanked(r.list, g.cfg.HybridTopK))
	}

	if len(lists) == 0 {
		return nil, NewError(KindExecutionError, "all ranked sources failed", nil)
	}

	fused := Fuse(lists, g.cfg.RRFK)
	if len(fused.Items) > g.cfg.MaxRows {
		fused.Items = fused.Items[:g.cfg.MaxRows]
	}

	applog.Info("[Federation] Ranked answer fused",
		"sources_ok", len(lists),
		"sources_total", len(sources),
		"items", len(fused.Items),
	)

	if g.cache != nil {
		cached := *fused
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			g.cache.Set(cacheCtx, question, &cached)
		}()
	}

	return &Answer{Kind: AnswerRanked, Backend: BackendVector, Query: executed, Ranked: fused}, nil
}
