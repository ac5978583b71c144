package federation

import (
	"context"
	"fmt"
)

// Executor 单个后端的执行适配器。
// 实现方负责硬超时、行数上限以及把原生结果形状归一化成 ResultSet，
// 上层永远看不到后端特定的行/文档表示。
type Executor interface {
	// Backend 返回后端标识
	Backend() Backend

	// Dialects 返回该执行器接受的方言
	Dialects() []Dialect

	// Execute 执行已通过校验的查询。maxRows 由执行器强制，调用方不可放宽。
	Execute(ctx context.Context, q CandidateQuery, maxRows int) (*ResultSet, error)
}

// VectorQuery 向量/词法排名检索请求。
// Vector 对适配器不透明（定长数值向量），Distance 是距离函数标签。
type VectorQuery struct {
	Text     string
	Vector   []float32
	Distance string // cosine | l2 | innerproduct
	TopK     int
}

// RankedSource 混合检索的单个排名源（向量索引或词法检索）。
// 返回的 Score 是该源的原生分数，跨源不可比，只有排名位置参与融合。
type RankedSource interface {
	Name() string
	SearchRanked(ctx context.Context, q VectorQuery) (RankedList, error)
}

// ExecutorSet 封闭的执行器集合，Gateway 按后端标识选择一次。
// 新增后端 = 注册新变体，而不是在 Gateway 里散落分支。
type ExecutorSet struct {
	executors map[Backend]Executor
	sources   []RankedSource
}

// NewExecutorSet 创建执行器集合
func NewExecutorSet() *ExecutorSet {
	return &ExecutorSet{executors: make(map[Backend]Executor)}
}

// Register 注册后端执行器，同一后端重复注册为配置错误
func (s *ExecutorSet) Register(e Executor) error {
	b := e.Backend()
	if _, dup := s.executors[b]; dup {
		return fmt.Errorf("executor for backend %q already registered", b)
	}
	s.executors[b] = e
	return nil
}

// AddRankedSource 注册混合检索排名源
func (s *ExecutorSet) AddRankedSource(src RankedSource) {
	s.sources = append(s.sources, src)
}

// Get 按后端取执行器
func (s *ExecutorSet) Get(b Backend) (Executor, bool) {
	e, ok := s.executors[b]
	return e, ok
}

// RankedSources 返回已配置的排名源
func (s *ExecutorSet) RankedSources() []RankedSource {
	return s.sources
}

// DialectFor 返回执行器声明的首个方言，用于生成阶段的方言标签
func (s *ExecutorSet) DialectFor(b Backend) (Dialect, bool) {
	e, ok := s.executors[b]
	if !ok || len(e.Dialects()) == 0 {
		return "", false
	}
	return e.Dialects()[0], true
}
