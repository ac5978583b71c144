package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"queryfed/internal/domain/federation"
)

// Introspector information_schema 内省器。纯读，结果由上层缓存。
type Introspector struct {
	db     *sql.DB
	schema string
}

// NewIntrospector 创建内省器，schema 为空时默认 public
func NewIntrospector(db *sql.DB, schema string) *Introspector {
	if schema == "" {
		schema = "public"
	}
	return &Introspector{db: db, schema: schema}
}

// Describe 生成表/列/类型快照，按表名与列序排序保证稳定输出
func (i *Introspector) Describe(ctx context.Context) (*federation.SchemaDescription, error) {
	const query = `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`

	rows, err := i.db.QueryContext(ctx, query, i.schema)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}
	defer rows.Close()

	desc := &federation.SchemaDescription{Backend: federation.BackendRelational}
	var current *federation.EntityDescription

	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		if current == nil || current.Name != table {
			desc.Entities = append(desc.Entities, federation.EntityDescription{Name: table})
			current = &desc.Entities[len(desc.Entities)-1]
		}
		current.Fields = append(current.Fields, federation.FieldDescription{
			Name:     column,
			Type:     dataType,
			Nullable: nullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return desc, nil
}
