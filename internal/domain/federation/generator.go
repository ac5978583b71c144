package federation

import (
	"context"
	"fmt"
	"strings"
	"time"

	applog "queryfed/internal/platform/log"
	"queryfed/internal/provider"
)

// ── Query Generator Adapter ──────────────────────────────────
//
// 问题 + schema + 方言 → 候选查询文本。
// 适配器不解释、不执行生成的文本（只剥离 markdown 围栏并打方言标签），
// 全部解释风险隔离在 Safety Validator 里。生成与校验分离，换一个
// 生成后端不碰安全逻辑，安全逻辑也能用手写查询串做单测。

// Generator 查询生成适配器
type Generator struct {
	providerName string
	model        string
}

// NewGenerator 创建生成适配器
func NewGenerator(providerName, model string) *Generator {
	return &Generator{providerName: providerName, model: model}
}

// Generate 生成候选查询。feedback 非空时为再生成：携带上一次的拒绝原因。
// 生成能力不可达或返回空文本时报 GenerationUnavailable。
func (g *Generator) Generate(ctx context.Context, question string, schema *SchemaDescription, dialect Dialect, feedback string) (CandidateQuery, error) {
	start := time.Now()

	p, err := provider.GetProvider(g.providerName)
	if err != nil {
		return CandidateQuery{}, NewError(KindGenerationUnavailable, "get provider", err)
	}

	system := systemPromptFor(dialect, schema)
	if feedback != "" {
		system += "\n\nIMPORTANT: your previous attempt was rejected by the safety validator: " + feedback + ". Generate a corrected query that avoids this."
	}

	resp, err := p.Complete(ctx, &provider.CompletionRequest{
		Model: g.model,
		Messages: []provider.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: question},
		},
		Temperature: 0.1,
		MaxTokens:   1000,
	})
	if err != nil {
		return CandidateQuery{}, NewError(KindGenerationUnavailable, "completion failed", err)
	}

	text := stripFences(resp.Content)
	if strings.TrimSpace(text) == "" {
		return CandidateQuery{}, NewError(KindGenerationUnavailable, "empty generation result", nil)
	}

	applog.Debug("[Generator] Candidate generated",
		"dialect", dialect,
		"tokens", resp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return CandidateQuery{Dialect: dialect, Text: strings.TrimSpace(text)}, nil
}

// systemPromptFor 按方言构建系统提示词
func systemPromptFor(dialect Dialect, schema *SchemaDescription) string {
	switch dialect {
	case DialectRelational:
		return fmt.Sprintf(`You are an expert SQL assistant for a PostgreSQL database.

Database schema:
%s

Rules:
1. Generate ONLY SELECT statements (read-only).
2. ALWAYS include a LIMIT clause (at most 100 rows).
3. Use clear column aliases.
4. Use ILIKE for case-insensitive text matching.
5. Order results in a sensible way.
6. Join tables where needed to enrich results.

Respond with the SQL statement only. No markdown, no explanation.`, schema.Prompt())

	case DialectDocumentFilter, DialectDocumentAggregation:
		return fmt.Sprintf(`You are a MongoDB query generator. Convert natural language questions into MongoDB read queries.

Schema:
%s

IMPORTANT RULES:
1. Return ONLY valid JSON, no markdown, no explanation.
2. Use the exact field names from the schema.
3. For counts/statistics use an aggregation pipeline; for listing/searching use a find query.
4. Always limit results to 100 unless asked for fewer.
5. Use case-insensitive regex for text searches.
6. Read-only: never use $out, $merge or any write stage.

Return JSON in this format:
{
  "query_type": "find" or "aggregation",
  "collection": "<collection name>",
  "filter": { ... },        // for find
  "projection": { ... },    // optional
  "sort": { ... },          // optional
  "limit": <number>,        // optional
  "pipeline": [ ... ]       // for aggregation
}`, schema.Prompt())

	default:
		// vector-semantic 查询由系统构造，不走 LLM；兜底仍给出只读约束
		return "Generate a read-only semantic search query for the question. Respond with the query text only."
	}
}

// stripFences 去除 LLM 返回里的 markdown 代码围栏
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	lines = lines[1:]
	if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
