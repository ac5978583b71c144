package federation

import (
	"testing"
)

func TestValidateAcceptsPlainSelect(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"simple select", "SELECT id, name FROM users WHERE age > 21 LIMIT 10"},
		{"lowercase select", "select * from orders limit 5"},
		{"trailing semicolon", "SELECT count(*) FROM events;"},
		{"column named like keyword", "SELECT updated_at, created_at FROM users LIMIT 10"},
		{"semicolon inside string literal", "SELECT * FROM notes WHERE body = 'a;b' LIMIT 10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(CandidateQuery{Dialect: DialectRelational, Text: tt.text})
			if !v.Accepted {
				t.Fatalf("expected accept, got reject: %s (%s)", v.Reason, v.Detail)
			}
		})
	}
}

func TestValidateRejectsNonSelect(t *testing.T) {
	v := Validate(CandidateQuery{Dialect: DialectRelational, Text: "EXPLAIN SELECT * FROM users"})
	if v.Accepted || v.Reason != RejectNotReadOnly {
		t.Fatalf("expected RejectNotReadOnly, got %+v", v)
	}
}

func TestValidateRejectsDeniedKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"delete in subquery", "SELECT * FROM (DELETE FROM users RETURNING *) t"},
		{"drop after select", "SELECT 1; DROP TABLE users"},
		{"update keyword", "SELECT * FROM users WHERE id IN (UPDATE users SET x=1 RETURNING id)"},
		// 禁用词出现在字符串字面量里同样拒绝：denylist 扫全文
		{"keyword inside string literal", "SELECT * FROM logs WHERE message = 'please update me' LIMIT 10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(CandidateQuery{Dialect: DialectRelational, Text: tt.text})
			if v.Accepted {
				t.Fatal("expected reject, got accept")
			}
			if v.Reason != RejectDeniedKeyword && v.Reason != RejectNotReadOnly {
				t.Fatalf("unexpected reason %s", v.Reason)
			}
		})
	}
}

func TestValidateRejectsMultipleStatements(t *testing.T) {
	v := Validate(CandidateQuery{Dialect: DialectRelational, Text: "SELECT 1; SELECT 2"})
	if v.Accepted {
		t.Fatal("expected reject for stacked statements")
	}
	if v.Reason != RejectMultipleStatements {
		t.Fatalf("expected RejectMultipleStatements, got %s", v.Reason)
	}
}

func TestValidateRejectsCapBypass(t *testing.T) {
	v := Validate(CandidateQuery{Dialect: DialectRelational, Text: "SELECT * FROM users LIMIT ALL"})
	if v.Accepted || v.Reason != RejectCapBypass {
		t.Fatalf("expected RejectCapBypass, got %+v", v)
	}

	v = Validate(CandidateQuery{Dialect: DialectDocumentFilter, Text: `{"collection":"users","filter":{},"limit":0}`})
	if v.Accepted || v.Reason != RejectCapBypass {
		t.Fatalf("expected RejectCapBypass for document limit 0, got %+v", v)
	}
}

func TestValidateStripsCommentsBeforeScanning(t *testing.T) {
	// 注释里的禁用词不算，但注释不能把堆叠语句藏起来
	v := Validate(CandidateQuery{Dialect: DialectRelational, Text: "SELECT id FROM users -- harmless comment\nLIMIT 5"})
	if !v.Accepted {
		t.Fatalf("expected accept with comment, got %+v", v)
	}

	v = Validate(CandidateQuery{Dialect: DialectRelational, Text: "SELECT 1 /* hide */; DELETE FROM users"})
	if v.Accepted {
		t.Fatal("expected reject for comment-masked stacking")
	}
}

func TestValidateDocumentDialect(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		accept bool
		reason RejectReason
	}{
		{
			name:   "plain find spec",
			text:   `{"query_type":"find","collection":"users","filter":{"age":{"$gt":21}},"limit":10}`,
			accept: true,
		},
		{
			name:   "keyword in filter value allowed",
			text:   `{"query_type":"find","collection":"tickets","filter":{"status":"update pending"},"limit":5}`,
			accept: true,
		},
		{
			name:   "server side javascript rejected",
			text:   `{"query_type":"find","collection":"users","filter":{"$where":"this.a > 1"}}`,
			accept: false,
			reason: RejectDeniedKeyword,
		},
		{
			name:   "out stage rejected",
			text:   `{"query_type":"aggregation","collection":"users","pipeline":[{"$out":"stolen"}]}`,
			accept: false,
			reason: RejectDeniedKeyword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(CandidateQuery{Dialect: DialectDocumentFilter, Text: tt.text})
			if v.Accepted != tt.accept {
				t.Fatalf("accept=%v, want %v (%+v)", v.Accepted, tt.accept, v)
			}
			if !tt.accept && v.Reason != tt.reason {
				t.Fatalf("reason=%s, want %s", v.Reason, tt.reason)
			}
		})
	}
}

func TestValidateEmptyAndUnknownDialect(t *testing.T) {
	v := Validate(CandidateQuery{Dialect: DialectRelational, Text: "   "})
	if v.Accepted {
		t.Fatal("expected reject for empty text")
	}

	v = Validate(CandidateQuery{Dialect: "graph-cypher", Text: "MATCH (n) RETURN n"})
	if v.Accepted {
		t.Fatal("expected reject for unknown dialect")
	}
}

// 幂等性：同一输入多次校验必须得到同一结论
func TestValidateIsIdempotent(t *testing.T) {
	q := CandidateQuery{Dialect: DialectRelational, Text: "SELECT 1; DROP TABLE users"}
	first := Validate(q)
	for i := 0; i < 10; i++ {
		again := Validate(q)
		if again != first {
			t.Fatalf("verdict changed between runs: %+v vs %+v", first, again)
		}
	}
}
