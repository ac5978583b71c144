package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"queryfed/internal/domain/federation"
	applog "queryfed/internal/platform/log"
)

// Executor 关系后端（PostgreSQL）执行适配器。
// 连接池归外部协作层所有，这里只在单次 Execute 期间借用。
type Executor struct {
	db *sql.DB
}

// NewExecutor 创建关系执行器
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

func (e *Executor) Backend() federation.Backend {
	return federation.BackendRelational
}

func (e *Executor) Dialects() []federation.Dialect {
	return []federation.Dialect{federation.DialectRelational}
}

var limitClause = regexp.MustCompile(`(?i)\blimit\s+\d+\b`)

// Execute 执行已校验的 SELECT。
// 行数上限在查询层追加 LIMIT，取回后再防御性截断；超时由 ctx 控制。
func (e *Executor) Execute(ctx context.Context, q federation.CandidateQuery, maxRows int) (*federation.ResultSet, error) {
	if maxRows <= 0 {
		maxRows = 100
	}
	text := appendLimit(q.Text, maxRows)

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, text)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, federation.NewError(federation.KindExecutionError, "read columns", err)
	}

	result := &federation.ResultSet{Columns: cols}
	for rows.Next() {
		if len(result.Rows) >= maxRows {
			break // 防御性截断，即使 LIMIT 没生效
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, federation.NewError(federation.KindExecutionError, "scan row", err)
		}
		row := make([]any, len(cols))
		for i, v := range values {
			row[i] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(err)
	}

	applog.Debug("[Executor/Postgres] Query executed",
		"rows", len(result.Rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// appendLimit 查询没有显式 LIMIT 时追加一个；
// 显式 LIMIT 超过上限时保留原文并依赖取回截断
func appendLimit(text string, maxRows int) string {
	trimmed := strings.TrimRight(strings.TrimSpace(text), ";")
	if limitClause.MatchString(trimmed) {
		return trimmed
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, maxRows)
}

// normalizeValue 把驱动返回的原生类型归一化为可序列化标量
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}

// classifyErr 把驱动错误映射到联邦错误类别。
// 原生消息对调用方不透明，只进日志。
func classifyErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return federation.NewError(federation.KindExecutionTimeout, "postgres query timed out", err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, context.Canceled):
		return federation.NewError(federation.KindConnectionUnavailable, "postgres connection unavailable", err)
	default:
		applog.Debug("[Executor/Postgres] Native error", "error", err)
		return federation.NewError(federation.KindExecutionError, "postgres execution failed", err)
	}
}
