package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"queryfed/internal/domain/federation"
	applog "queryfed/internal/platform/log"
)

// SearchTarget 排名检索的目标表配置
type SearchTarget struct {
	Table           string
	IDColumn        string
	TextColumns     []string // trigram 检索的文本列
	EmbeddingColumn string   // pgvector 列
}

// ── Trigram 词法排名源 ───────────────────────────────────────

// TrigramSource pg_trgm similarity 词法检索。
// 原生分数是 0..1 的三元组相似度，只有排名位置参与跨源融合。
type TrigramSource struct {
	db     *sql.DB
	target SearchTarget
}

// NewTrigramSource 创建 trigram 排名源
func NewTrigramSource(db *sql.DB, target SearchTarget) *TrigramSource {
	return &TrigramSource{db: db, target: target}
}

func (s *TrigramSource) Name() string {
	return "postgres-trigram"
}

// SearchRanked 词法检索，不需要查询向量
func (s *TrigramSource) SearchRanked(ctx context.Context, q federation.VectorQuery) (federation.RankedList, error) {
	list := federation.RankedList{Source: s.Name()}
	if len(s.target.TextColumns) == 0 {
		return list, fmt.Errorf("no text columns configured for %s", s.target.Table)
	}

	sims := make([]string, len(s.target.TextColumns))
	wheres := make([]string, len(s.target.TextColumns))
	for i, col := range s.target.TextColumns {
		sims[i] = fmt.Sprintf("similarity(%s::text, $1::text)", col)
		wheres[i] = fmt.Sprintf("%s::text %% $1::text", col)
	}

	query := fmt.Sprintf(`
		SELECT %s::text, GREATEST(%s) AS score
		FROM %s
		WHERE %s
		ORDER BY score DESC
		LIMIT $2`,
		s.target.IDColumn,
		strings.Join(sims, ", "),
		s.target.Table,
		strings.Join(wheres, " OR "),
	)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, q.Text, q.TopK)
	if err != nil {
		return list, fmt.Errorf("trigram search: %w", err)
	}
	defer rows.Close()

	rank := 0
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return list, fmt.Errorf("scan trigram row: %w", err)
		}
		rank++
		list.Items = append(list.Items, federation.RankedItem{ID: id, Rank: rank, Score: score})
	}
	if err := rows.Err(); err != nil {
		return list, fmt.Errorf("iterate trigram rows: %w", err)
	}

	applog.Debug("[Search/Trigram] Done", "hits", len(list.Items), "elapsed_ms", time.Since(start).Milliseconds())
	return list, nil
}

// ── pgvector 向量排名源 ──────────────────────────────────────

// VectorSource pgvector 相似度检索。
// 原生分数为 1-距离（cosine）或负距离（l2/内积），同样只按排名融合。
type VectorSource struct {
	db     *sql.DB
	target SearchTarget
}

// NewVectorSource 创建 pgvector 排名源
func NewVectorSource(db *sql.DB, target SearchTarget) *VectorSource {
	return &VectorSource{db: db, target: target}
}

func (s *VectorSource) Name() string {
	return "postgres-pgvector"
}

// SearchRanked 向量检索；查询向量缺失（embedding 降级）时报错，
// 由 Gateway 把该源从本次融合里剔除
func (s *VectorSource) SearchRanked(ctx context.Context, q federation.VectorQuery) (federation.RankedList, error) {
	list := federation.RankedList{Source: s.Name()}
	if len(q.Vector) == 0 {
		return list, fmt.Errorf("no query vector available")
	}

	op := distanceOp(q.Distance)
	col := s.target.EmbeddingColumn

	query := fmt.Sprintf(`
		SELECT %s::text, 1 - (%s %s $1) AS score
		FROM %s
		WHERE %s IS NOT NULL
		ORDER BY %s %s $1
		LIMIT $2`,
		s.target.IDColumn, col, op, s.target.Table, col, col, op,
	)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(q.Vector), q.TopK)
	if err != nil {
		return list, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	rank := 0
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return list, fmt.Errorf("scan vector row: %w", err)
		}
		rank++
		list.Items = append(list.Items, federation.RankedItem{ID: id, Rank: rank, Score: score})
	}
	if err := rows.Err(); err != nil {
		return list, fmt.Errorf("iterate vector rows: %w", err)
	}

	applog.Debug("[Search/Vector] Done", "hits", len(list.Items), "elapsed_ms", time.Since(start).Milliseconds())
	return list, nil
}

// distanceOp 距离函数标签 → pgvector 操作符
func distanceOp(tag string) string {
	switch strings.ToLower(tag) {
	case "l2":
		return "<->"
	case "innerproduct":
		return "<#>"
	default:
		return "<=>" // cosine
	}
}
