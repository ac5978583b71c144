package federation

import (
	"fmt"
	"strings"
	"time"
)

// Backend 联邦查询目标后端标识
type Backend string

const (
	BackendRelational Backend = "relational" // PostgreSQL
	BackendDocument   Backend = "document"   // MongoDB
	BackendVector     Backend = "vector"     // 向量/混合检索（pgvector、OpenSearch）
)

// KnownBackends 分类器允许的后端集合（封闭集）
var KnownBackends = []Backend{BackendRelational, BackendDocument, BackendVector}

// ParseBackend 解析后端标识，未知值返回 false
func ParseBackend(s string) (Backend, bool) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownBackends {
		if b == known {
			return b, true
		}
	}
	return "", false
}

// Dialect 查询方言
type Dialect string

const (
	DialectRelational          Dialect = "relational"
	DialectDocumentFilter      Dialect = "document-filter"
	DialectDocumentAggregation Dialect = "document-aggregation"
	DialectVectorSemantic      Dialect = "vector-semantic"
)

// ── Schema ───────────────────────────────────────────────────

// FieldDescription 单个字段描述
type FieldDescription struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// EntityDescription 表/集合描述
type EntityDescription struct {
	Name   string             `json:"name"`
	Fields []FieldDescription `json:"fields"`
}

// SchemaDescription 单个后端的 schema 快照。
// 只读快照：按需重新生成，从不原地修改。
type SchemaDescription struct {
	Backend  Backend             `json:"backend"`
	Entities []EntityDescription `json:"entities"`
}

// Prompt 渲染为 LLM 上下文文本
func (s *SchemaDescription) Prompt() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Backend: %s\n\n", s.Backend))
	for _, e := range s.Entities {
		sb.WriteString(e.Name)
		sb.WriteString("\n")
		for _, f := range e.Fields {
			nullable := "NOT NULL"
			if f.Nullable {
				nullable = "NULL"
			}
			sb.WriteString(fmt.Sprintf("  - %s (%s, %s)\n", f.Name, f.Type, nullable))
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// ── Query ────────────────────────────────────────────────────

// CandidateQuery 生成的候选查询。每个问题生成一次，从不跨问题复用。
type CandidateQuery struct {
	Dialect Dialect        `json:"dialect"`
	Text    string         `json:"text"`
	Params  map[string]any `json:"params,omitempty"`
}

// RejectReason 校验拒绝原因（封闭集，见 Validate）
type RejectReason string

const (
	RejectNotReadOnly        RejectReason = "NotReadOnly"
	RejectDeniedKeyword      RejectReason = "DeniedKeyword"
	RejectMultipleStatements RejectReason = "MultipleStatements"
	RejectCapBypass          RejectReason = "CapBypass"
)

// ValidationVerdict 校验结论。候选查询从 generated 恰好转移到
// accepted/rejected 之一，没有中间态。
type ValidationVerdict struct {
	Accepted bool         `json:"accepted"`
	Reason   RejectReason `json:"reason,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}

// ── Results ──────────────────────────────────────────────────

// ResultSet 统一表格结果：有序列名 + 有序行
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// RankedItem 单条排名结果，Rank 从 1 开始
type RankedItem struct {
	ID    string  `json:"id"`
	Rank  int     `json:"rank"`
	Score float64 `json:"score"` // 后端原生分数，跨后端不可直接比较
}

// RankedList 单个排名源的有序结果
type RankedList struct {
	Source string       `json:"source"`
	Items  []RankedItem `json:"items"`
}

// FusedItem RRF 融合后的单条结果
type FusedItem struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// FusedResult 融合结果：fused score 严格降序，同分按 ID 升序。
// 派生值，从不持久化，每次请求重新计算。
type FusedResult struct {
	Items   []FusedItem `json:"items"`
	Sources []string    `json:"sources"`
}

// ── Answer ───────────────────────────────────────────────────

// AnswerKind 应答类型标记，调用方据此选择渲染方式
type AnswerKind string

const (
	AnswerTabular AnswerKind = "tabular"
	AnswerRanked  AnswerKind = "ranked"
)

// Answer 联邦查询应答
type Answer struct {
	RequestID string         `json:"request_id"`
	Kind      AnswerKind     `json:"kind"`
	Backend   Backend        `json:"backend"`
	Query     CandidateQuery `json:"executed_query"`
	Table     *ResultSet     `json:"table,omitempty"`
	Ranked    *FusedResult   `json:"ranked,omitempty"`
}

// ── Config ───────────────────────────────────────────────────

// Config 联邦引擎配置。显式传入 Gateway/Executor，不读全局状态。
type Config struct {
	MaxRows       int           `json:"max_rows"`       // 行/条目上限
	Timeout       time.Duration `json:"timeout"`        // 单次后端执行超时
	RRFK          int           `json:"rrf_k"`          // RRF 平滑常数
	RequestBudget time.Duration `json:"request_budget"` // 端到端预算，优先于单源超时
	HybridTopK    int           `json:"hybrid_top_k"`   // 每个排名源取回的候选数
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxRows:       100,
		Timeout:       10 * time.Second,
		RRFK:          60,
		RequestBudget: 30 * time.Second,
		HybridTopK:    20,
	}
}

func (c Config) normalized() Config {
	if c.MaxRows <= 0 {
		c.MaxRows = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	if c.RequestBudget <= 0 {
		c.RequestBudget = 30 * time.Second
	}
	if c.HybridTopK <= 0 {
		c.HybridTopK = 20
	}
	return c
}
