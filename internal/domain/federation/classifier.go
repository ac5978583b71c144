package federation

import (
	"context"
	"strings"

	applog "queryfed/internal/platform/log"
	"queryfed/internal/provider"
)

// ── Backend Classifier ───────────────────────────────────────
//
// 仅在调用方没有显式指定后端时运行；显式 hint 永远优先。

const classifierPrompt = `You route natural language questions to exactly one data backend.

Backends:
- relational: orders, customers, order items, amounts, statuses, aggregations over structured business data (PostgreSQL)
- document: deliveries, logistics partners, tracking events, activity logs (MongoDB)
- vector: semantic similarity, "find things like...", fuzzy content search, recommendations

Answer with EXACTLY one word: relational, document or vector. Nothing else.`

// Classifier 基于生成能力的后端分类器
type Classifier struct {
	providerName string
	model        string
}

// NewClassifier 创建分类器
func NewClassifier(providerName, model string) *Classifier {
	return &Classifier{providerName: providerName, model: model}
}

// Classify 把问题路由到唯一后端。
// 固定提示词契约要求恰好返回一个已知标识，无法识别即 ClassificationFailed。
func (c *Classifier) Classify(ctx context.Context, question string) (Backend, error) {
	p, err := provider.GetProvider(c.providerName)
	if err != nil {
		return "", NewError(KindClassificationFailed, "get provider", err)
	}

	resp, err := p.Complete(ctx, &provider.CompletionRequest{
		Model: c.model,
		Messages: []provider.Message{
			{Role: "system", Content: classifierPrompt},
			{Role: "user", Content: question},
		},
		Temperature: 0,
		MaxTokens:   8,
	})
	if err != nil {
		return "", NewError(KindClassificationFailed, "completion failed", err)
	}

	answer := strings.ToLower(strings.TrimSpace(stripFences(resp.Content)))
	answer = strings.Trim(answer, `."'`)

	backend, ok := ParseBackend(answer)
	if !ok {
		applog.Warn("[Classifier] Unrecognized backend answer", "answer", answer)
		return "", NewError(KindClassificationFailed, "unrecognized backend: "+answer, nil)
	}

	applog.Debug("[Classifier] Question routed", "backend", backend)
	return backend, nil
}
