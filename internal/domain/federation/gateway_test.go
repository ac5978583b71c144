package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"queryfed/internal/provider"
)

// ── 测试替身 ─────────────────────────────────────────────────

type fakeProvider struct {
	name     string
	complete func(req *provider.CompletionRequest) (string, error)
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	content, err := f.complete(req)
	if err != nil {
		return nil, err
	}
	return &provider.CompletionResponse{Content: content}, nil
}

type fakeExecutor struct {
	backend  Backend
	dialect  Dialect
	result   *ResultSet
	err      error
	gotQuery CandidateQuery
	gotMax   int
}

func (f *fakeExecutor) Backend() Backend    { return f.backend }
func (f *fakeExecutor) Dialects() []Dialect { return []Dialect{f.dialect} }
func (f *fakeExecutor) Execute(ctx context.Context, q CandidateQuery, maxRows int) (*ResultSet, error) {
	f.gotQuery = q
	f.gotMax = maxRows
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type staticSchema struct {
	backend Backend
}

func (s *staticSchema) Describe(ctx context.Context) (*SchemaDescription, error) {
	return &SchemaDescription{
		Backend: s.backend,
		Entities: []EntityDescription{
			{Name: "users", Fields: []FieldDescription{{Name: "id", Type: "integer"}, {Name: "name", Type: "text"}}},
		},
	}, nil
}

type fakeSource struct {
	name  string
	items []RankedItem
	err   error
	calls int
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) SearchRanked(ctx context.Context, q VectorQuery) (RankedList, error) {
	f.calls++
	if f.err != nil {
		return RankedList{Source: f.name}, f.err
	}
	return RankedList{Source: f.name, Items: f.items}, nil
}

type fakeAnswerCache struct {
	mu     sync.Mutex
	stored *FusedResult
	hits   int
}

func (c *fakeAnswerCache) Get(ctx context.Context, question string) (*FusedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stored == nil {
		return nil, false
	}
	c.hits++
	return c.stored, true
}
func (c *fakeAnswerCache) Set(ctx context.Context, question string, result *FusedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored = result
}
func (c *fakeAnswerCache) snapshot() *FusedResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stored
}

// registerFake 注册唯一命名的假 provider，返回其名字
func registerFake(t *testing.T, fn func(req *provider.CompletionRequest) (string, error)) string {
	t.Helper()
	name := "fake-" + t.Name()
	provider.RegisterProvider(&fakeProvider{name: name, complete: fn})
	return name
}

func isClassifierCall(req *provider.CompletionRequest) bool {
	return len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "EXACTLY one word")
}

// ── 表格路径 ─────────────────────────────────────────────────

func TestGatewayTabularFlowWithHint(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "SELECT id, name FROM users LIMIT 5", nil
	})

	exec := &fakeExecutor{
		backend: BackendRelational,
		dialect: DialectRelational,
		result:  &ResultSet{Columns: []string{"id", "name"}, Rows: [][]any{{1, "ada"}}},
	}
	executors := NewExecutorSet()
	if err := executors.Register(exec); err != nil {
		t.Fatal(err)
	}
	schemas := map[Backend]SchemaProvider{BackendRelational: &staticSchema{backend: BackendRelational}}

	gw := NewGateway(DefaultConfig(), executors, schemas, NewGenerator(name, "m"), NewClassifier(name, "m"))

	answer, err := gw.Answer(context.Background(), "list all users", BackendRelational)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Kind != AnswerTabular || answer.Backend != BackendRelational {
		t.Fatalf("wrong answer shape: %+v", answer)
	}
	if answer.RequestID == "" {
		t.Fatal("request id missing")
	}
	if exec.gotMax != 100 {
		t.Fatalf("executor max rows = %d, want 100", exec.gotMax)
	}
	if exec.gotQuery.Text != "SELECT id, name FROM users LIMIT 5" {
		t.Fatalf("executed query = %q", exec.gotQuery.Text)
	}
	if len(answer.Table.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(answer.Table.Rows))
	}
}

func TestGatewayClassifierRoutesWithoutHint(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		if isClassifierCall(req) {
			return "Relational.", nil // 大小写与标点都要被归一化
		}
		return "SELECT 1 LIMIT 1", nil
	})

	exec := &fakeExecutor{backend: BackendRelational, dialect: DialectRelational, result: &ResultSet{}}
	executors := NewExecutorSet()
	executors.Register(exec)
	schemas := map[Backend]SchemaProvider{BackendRelational: &staticSchema{backend: BackendRelational}}

	gw := NewGateway(DefaultConfig(), executors, schemas, NewGenerator(name, "m"), NewClassifier(name, "m"))

	answer, err := gw.Answer(context.Background(), "how many orders", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Backend != BackendRelational {
		t.Fatalf("routed to %s, want relational", answer.Backend)
	}
}

func TestGatewayRejectsUnknownHint(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "SELECT 1", nil
	})
	executors := NewExecutorSet()
	gw := NewGateway(DefaultConfig(), executors, nil, NewGenerator(name, "m"), NewClassifier(name, "m"))

	_, err := gw.Answer(context.Background(), "q", Backend("graph"))
	if KindOf(err) != KindClassificationFailed {
		t.Fatalf("expected ClassificationFailed, got %v", err)
	}
}

func TestGatewayClassificationFailedOnGarbage(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "I think maybe the warehouse?", nil
	})
	executors := NewExecutorSet()
	gw := NewGateway(DefaultConfig(), executors, nil, NewGenerator(name, "m"), NewClassifier(name, "m"))

	_, err := gw.Answer(context.Background(), "q", "")
	if KindOf(err) != KindClassificationFailed {
		t.Fatalf("expected ClassificationFailed, got %v", err)
	}
}

func TestGatewayRegeneratesAfterRejection(t *testing.T) {
	var calls int
	var sawFeedback bool
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		calls++
		if strings.Contains(req.Messages[0].Content, "rejected by the safety validator") {
			sawFeedback = true
			return "SELECT id FROM users LIMIT 10", nil
		}
		return "SELECT id FROM users; DROP TABLE users", nil
	})

	exec := &fakeExecutor{backend: BackendRelational, dialect: DialectRelational, result: &ResultSet{}}
	executors := NewExecutorSet()
	executors.Register(exec)
	schemas := map[Backend]SchemaProvider{BackendRelational: &staticSchema{backend: BackendRelational}}

	gw := NewGateway(DefaultConfig(), executors, schemas, NewGenerator(name, "m"), NewClassifier(name, "m"))

	answer, err := gw.Answer(context.Background(), "list users", BackendRelational)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawFeedback {
		t.Fatal("regeneration did not carry rejection feedback")
	}
	if calls != 2 {
		t.Fatalf("generator called %d times, want 2", calls)
	}
	if answer.Query.Text != "SELECT id FROM users LIMIT 10" {
		t.Fatalf("executed uncorrected query: %q", answer.Query.Text)
	}
}

func TestGatewaySecondRejectionSurfaces(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "DELETE FROM users", nil
	})

	exec := &fakeExecutor{backend: BackendRelational, dialect: DialectRelational, result: &ResultSet{}}
	executors := NewExecutorSet()
	executors.Register(exec)
	schemas := map[Backend]SchemaProvider{BackendRelational: &staticSchema{backend: BackendRelational}}

	gw := NewGateway(DefaultConfig(), executors, schemas, NewGenerator(name, "m"), NewClassifier(name, "m"))

	_, err := gw.Answer(context.Background(), "wipe users", BackendRelational)
	if KindOf(err) != KindValidationRejected {
		t.Fatalf("expected ValidationRejected, got %v", err)
	}
	if RejectReasonOf(err) != RejectNotReadOnly {
		t.Fatalf("expected RejectNotReadOnly, got %s", RejectReasonOf(err))
	}
	// 被拒绝的查询绝不能到达执行器
	if exec.gotQuery.Text != "" {
		t.Fatalf("rejected query reached executor: %q", exec.gotQuery.Text)
	}
}

func TestGatewayRetriesGenerationOnce(t *testing.T) {
	var calls int
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("upstream 503")
		}
		return "SELECT 1 LIMIT 1", nil
	})

	exec := &fakeExecutor{backend: BackendRelational, dialect: DialectRelational, result: &ResultSet{}}
	executors := NewExecutorSet()
	executors.Register(exec)
	schemas := map[Backend]SchemaProvider{BackendRelational: &staticSchema{backend: BackendRelational}}

	gw := NewGateway(DefaultConfig(), executors, schemas, NewGenerator(name, "m"), NewClassifier(name, "m"))

	if _, err := gw.Answer(context.Background(), "q", BackendRelational); err != nil {
		t.Fatalf("retry did not recover: %v", err)
	}
	if calls != 2 {
		t.Fatalf("generator called %d times, want 2", calls)
	}
}

func TestGatewayMissingExecutorIsConnectionUnavailable(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "SELECT 1", nil
	})
	gw := NewGateway(DefaultConfig(), NewExecutorSet(), nil, NewGenerator(name, "m"), NewClassifier(name, "m"))

	_, err := gw.Answer(context.Background(), "q", BackendRelational)
	if KindOf(err) != KindConnectionUnavailable {
		t.Fatalf("expected ConnectionUnavailable, got %v", err)
	}
}

// ── 排名路径 ─────────────────────────────────────────────────

func TestGatewayRankedFusesAcrossSources(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "vector", nil
	})

	lexical := &fakeSource{name: "lexical", items: []RankedItem{{ID: "x", Rank: 1}, {ID: "y", Rank: 2}}}
	vector := &fakeSource{name: "vector", items: []RankedItem{{ID: "y", Rank: 1}, {ID: "z", Rank: 2}}}

	executors := NewExecutorSet()
	executors.AddRankedSource(lexical)
	executors.AddRankedSource(vector)

	gw := NewGateway(DefaultConfig(), executors, nil, NewGenerator(name, "m"), NewClassifier(name, "m"))

	answer, err := gw.Answer(context.Background(), "things like sci-fi", BackendVector)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Kind != AnswerRanked {
		t.Fatalf("kind = %s, want ranked", answer.Kind)
	}
	if len(answer.Ranked.Items) != 3 {
		t.Fatalf("fused items = %d, want 3", len(answer.Ranked.Items))
	}
	// y 出现在两个列表里，必须排第一
	if answer.Ranked.Items[0].ID != "y" {
		t.Fatalf("top item = %s, want y", answer.Ranked.Items[0].ID)
	}
}

func TestGatewayRankedDegradesFailedSource(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "vector", nil
	})

	healthy := &fakeSource{name: "lexical", items: []RankedItem{{ID: "a", Rank: 1}}}
	broken := &fakeSource{name: "vector", err: errors.New("index offline")}

	executors := NewExecutorSet()
	executors.AddRankedSource(healthy)
	executors.AddRankedSource(broken)

	gw := NewGateway(DefaultConfig(), executors, nil, NewGenerator(name, "m"), NewClassifier(name, "m"))

	answer, err := gw.Answer(context.Background(), "similar items", BackendVector)
	if err != nil {
		t.Fatalf("degradation must not fail the request: %v", err)
	}
	if len(answer.Ranked.Items) != 1 || answer.Ranked.Items[0].ID != "a" {
		t.Fatalf("expected only healthy source items, got %+v", answer.Ranked.Items)
	}
}

func TestGatewayRankedAllSourcesFailed(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "vector", nil
	})

	executors := NewExecutorSet()
	executors.AddRankedSource(&fakeSource{name: "a", err: errors.New("down")})
	executors.AddRankedSource(&fakeSource{name: "b", err: errors.New("down")})

	gw := NewGateway(DefaultConfig(), executors, nil, NewGenerator(name, "m"), NewClassifier(name, "m"))

	_, err := gw.Answer(context.Background(), "q", BackendVector)
	if KindOf(err) != KindExecutionError {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
}

func TestGatewayRankedNoSourcesConfigured(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "vector", nil
	})
	gw := NewGateway(DefaultConfig(), NewExecutorSet(), nil, NewGenerator(name, "m"), NewClassifier(name, "m"))

	_, err := gw.Answer(context.Background(), "q", BackendVector)
	if KindOf(err) != KindConnectionUnavailable {
		t.Fatalf("expected ConnectionUnavailable, got %v", err)
	}
}

func TestGatewayRankedEnforcesResultCap(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "vector", nil
	})

	items := make([]RankedItem, 10)
	for i := range items {
		items[i] = RankedItem{ID: fmt.Sprintf("doc-%02d", i), Rank: i + 1}
	}
	executors := NewExecutorSet()
	executors.AddRankedSource(&fakeSource{name: "s", items: items})

	cfg := DefaultConfig()
	cfg.MaxRows = 3
	gw := NewGateway(cfg, executors, nil, NewGenerator(name, "m"), NewClassifier(name, "m"))

	answer, err := gw.Answer(context.Background(), "q", BackendVector)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answer.Ranked.Items) != 3 {
		t.Fatalf("cap not enforced: %d items", len(answer.Ranked.Items))
	}
}

func TestGatewayRankedServedFromCache(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "vector", nil
	})

	src := &fakeSource{name: "s", items: []RankedItem{{ID: "fresh", Rank: 1}}}
	executors := NewExecutorSet()
	executors.AddRankedSource(src)

	cache := &fakeAnswerCache{stored: &FusedResult{Items: []FusedItem{{ID: "cached", Score: 1}}}}

	gw := NewGateway(DefaultConfig(), executors, nil, NewGenerator(name, "m"), NewClassifier(name, "m"))
	gw.SetCache(cache)

	answer, err := gw.Answer(context.Background(), "q", BackendVector)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Ranked.Items[0].ID != "cached" {
		t.Fatalf("expected cached result, got %+v", answer.Ranked.Items)
	}
	if src.calls != 0 {
		t.Fatal("cache hit must not fan out to sources")
	}
}

func TestGatewayRankedPopulatesCache(t *testing.T) {
	name := registerFake(t, func(req *provider.CompletionRequest) (string, error) {
		return "vector", nil
	})

	executors := NewExecutorSet()
	executors.AddRankedSource(&fakeSource{name: "s", items: []RankedItem{{ID: "a", Rank: 1}}})

	cache := &fakeAnswerCache{}
	gw := NewGateway(DefaultConfig(), executors, nil, NewGenerator(name, "m"), NewClassifier(name, "m"))
	gw.SetCache(cache)

	if _, err := gw.Answer(context.Background(), "q", BackendVector); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 缓存写入是异步的
	deadline := time.Now().Add(2 * time.Second)
	for cache.snapshot() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	stored := cache.snapshot()
	if stored == nil || stored.Items[0].ID != "a" {
		t.Fatalf("fused result not cached: %+v", stored)
	}
}
