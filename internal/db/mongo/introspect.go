package mongodb

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"queryfed/internal/domain/federation"
)

// Introspector 文档库 schema 内省器。
// MongoDB 没有固定 schema，这里取每个集合的采样文档推断字段与类型。
type Introspector struct {
	db *mongo.Database
}

// NewIntrospector 创建内省器
func NewIntrospector(db *mongo.Database) *Introspector {
	return &Introspector{db: db}
}

// Describe 列出集合并采样推断字段
func (i *Introspector) Describe(ctx context.Context) (*federation.SchemaDescription, error) {
	names, err := i.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)

	desc := &federation.SchemaDescription{Backend: federation.BackendDocument}
	for _, name := range names {
		entity := federation.EntityDescription{Name: name}

		var sample bson.D
		err := i.db.Collection(name).FindOne(ctx, bson.D{}).Decode(&sample)
		if err != nil && err != mongo.ErrNoDocuments {
			return nil, fmt.Errorf("sample collection %s: %w", name, err)
		}

		for _, el := range sample {
			entity.Fields = append(entity.Fields, federation.FieldDescription{
				Name: el.Key,
				Type: bsonTypeName(el.Value),
				// 文档字段天然可缺失
				Nullable: true,
			})
		}
		desc.Entities = append(desc.Entities, entity)
	}
	return desc, nil
}

// bsonTypeName 采样值 → 语义类型名
func bsonTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int32, int64, int:
		return "int"
	case float64, float32:
		return "double"
	case bool:
		return "bool"
	case primitive.DateTime:
		return "date"
	case primitive.ObjectID:
		return "objectId"
	case primitive.Decimal128:
		return "decimal"
	case primitive.A:
		return "array"
	case bson.D, bson.M:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
