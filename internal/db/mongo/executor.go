package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"queryfed/internal/domain/federation"
	applog "queryfed/internal/platform/log"
)

// Executor 文档后端（MongoDB）执行适配器。
// 候选查询文本是 JSON 规格：find（filter/projection/sort/limit）
// 或 aggregation（pipeline）。解析用 bson.D 保留键序。
type Executor struct {
	db *mongo.Database
}

// NewExecutor 创建文档执行器
func NewExecutor(db *mongo.Database) *Executor {
	return &Executor{db: db}
}

func (e *Executor) Backend() federation.Backend {
	return federation.BackendDocument
}

func (e *Executor) Dialects() []federation.Dialect {
	return []federation.Dialect{federation.DialectDocumentFilter, federation.DialectDocumentAggregation}
}

// docSpec 生成器约定的查询规格
type docSpec struct {
	QueryType  string   `bson:"query_type"`
	Collection string   `bson:"collection"`
	Filter     bson.D   `bson:"filter"`
	Projection bson.D   `bson:"projection"`
	Sort       bson.D   `bson:"sort"`
	Limit      int64    `bson:"limit"`
	Pipeline   []bson.D `bson:"pipeline"`
}

// Execute 执行已校验的文档查询，归一化为统一 ResultSet
func (e *Executor) Execute(ctx context.Context, q federation.CandidateQuery, maxRows int) (*federation.ResultSet, error) {
	if maxRows <= 0 {
		maxRows = 100
	}

	var spec docSpec
	if err := bson.UnmarshalExtJSON([]byte(q.Text), false, &spec); err != nil {
		return nil, federation.NewError(federation.KindExecutionError, "parse document query spec", err)
	}
	if spec.Collection == "" {
		return nil, federation.NewError(federation.KindExecutionError, "document query spec missing collection", nil)
	}

	limit := int64(maxRows)
	if spec.Limit > 0 && spec.Limit < limit {
		limit = spec.Limit
	}

	coll := e.db.Collection(spec.Collection)
	start := time.Now()

	var docs []bson.D
	var err error
	if spec.QueryType == "aggregation" || len(spec.Pipeline) > 0 {
		docs, err = e.runAggregation(ctx, coll, spec, limit)
	} else {
		docs, err = e.runFind(ctx, coll, spec, limit)
	}
	if err != nil {
		return nil, classifyErr(err)
	}

	docs = capDocs(docs, maxRows)

	result := normalizeDocs(docs)
	applog.Debug("[Executor/Mongo] Query executed",
		"collection", spec.Collection,
		"rows", len(result.Rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (e *Executor) runFind(ctx context.Context, coll *mongo.Collection, spec docSpec, limit int64) ([]bson.D, error) {
	opts := options.Find().SetLimit(limit)
	if len(spec.Projection) > 0 {
		opts.SetProjection(spec.Projection)
	}
	if len(spec.Sort) > 0 {
		opts.SetSort(spec.Sort)
	}

	filter := spec.Filter
	if filter == nil {
		filter = bson.D{}
	}

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (e *Executor) runAggregation(ctx context.Context, coll *mongo.Collection, spec docSpec, limit int64) ([]bson.D, error) {
	// 管道末尾强制追加 $limit；生成器给出的更小 limit 保留在前面
	pipeline := append(spec.Pipeline, bson.D{{Key: "$limit", Value: limit}})

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// capDocs 防御性截断，即使 limit 阶段没生效也只取上限，保留原生顺序
func capDocs(docs []bson.D, maxRows int) []bson.D {
	if len(docs) > maxRows {
		return docs[:maxRows]
	}
	return docs
}

// normalizeDocs 文档列表 → 统一表格。
// 列序取各文档键的首次出现顺序，缺失字段补 nil。
func normalizeDocs(docs []bson.D) *federation.ResultSet {
	result := &federation.ResultSet{}
	colIndex := make(map[string]int)

	for _, doc := range docs {
		for _, el := range doc {
			if _, ok := colIndex[el.Key]; !ok {
				colIndex[el.Key] = len(result.Columns)
				result.Columns = append(result.Columns, el.Key)
			}
		}
	}

	for _, doc := range docs {
		row := make([]any, len(result.Columns))
		for _, el := range doc {
			row[colIndex[el.Key]] = normalizeValue(el.Value)
		}
		result.Rows = append(result.Rows, row)
	}
	return result
}

// normalizeValue BSON 原生类型 → 可序列化标量
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return t.String()
	case primitive.A:
		arr := make([]any, len(t))
		for i, item := range t {
			arr[i] = normalizeValue(item)
		}
		return arr
	case bson.D:
		m := make(map[string]any, len(t))
		for _, el := range t {
			m[el.Key] = normalizeValue(el.Value)
		}
		return m
	default:
		return v
	}
}

// classifyErr 驱动错误 → 联邦错误类别，原生消息只进日志
func classifyErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err):
		return federation.NewError(federation.KindExecutionTimeout, "mongo query timed out", err)
	case mongo.IsNetworkError(err) || errors.Is(err, context.Canceled):
		return federation.NewError(federation.KindConnectionUnavailable, "mongo connection unavailable", err)
	default:
		applog.Debug("[Executor/Mongo] Native error", "error", err)
		return federation.NewError(federation.KindExecutionError, "mongo execution failed", err)
	}
}

// Ping 连通性检查
func Ping(ctx context.Context, client *mongo.Client) error {
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	return nil
}
