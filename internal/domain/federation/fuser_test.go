package federation

import (
	"math"
	"testing"
)

func TestFuseRRFScoring(t *testing.T) {
	lists := []RankedList{
		{Source: "lexical", Items: []RankedItem{
			{ID: "x", Rank: 1},
			{ID: "y", Rank: 2},
			{ID: "z", Rank: 3},
		}},
		{Source: "vector", Items: []RankedItem{
			{ID: "y", Rank: 1},
			{ID: "x", Rank: 2},
		}},
	}

	fused := Fuse(lists, 60)

	if len(fused.Items) != 3 {
		t.Fatalf("expected 3 fused items, got %d", len(fused.Items))
	}

	// x 与 y 同分：1/61 + 1/62；平局按 item-id 升序 → x 在前
	want := 1.0/61 + 1.0/62
	if math.Abs(fused.Items[0].Score-want) > 1e-12 {
		t.Fatalf("top score = %v, want %v", fused.Items[0].Score, want)
	}
	if fused.Items[0].ID != "x" || fused.Items[1].ID != "y" {
		t.Fatalf("tie-break order wrong: got [%s %s]", fused.Items[0].ID, fused.Items[1].ID)
	}
	if fused.Items[2].ID != "z" {
		t.Fatalf("expected z last, got %s", fused.Items[2].ID)
	}
	if math.Abs(fused.Items[2].Score-1.0/63) > 1e-12 {
		t.Fatalf("z score = %v, want %v", fused.Items[2].Score, 1.0/63)
	}
}

// 确定性：同样的输入无论跑多少次，顺序与分数完全一致
func TestFuseIsDeterministic(t *testing.T) {
	lists := []RankedList{
		{Source: "a", Items: []RankedItem{{ID: "1"}, {ID: "2"}, {ID: "3"}}},
		{Source: "b", Items: []RankedItem{{ID: "3"}, {ID: "1"}}},
		{Source: "c", Items: []RankedItem{{ID: "2"}, {ID: "4"}}},
	}

	first := Fuse(lists, 60)
	for i := 0; i < 20; i++ {
		again := Fuse(lists, 60)
		if len(again.Items) != len(first.Items) {
			t.Fatal("item count changed between runs")
		}
		for j := range first.Items {
			if again.Items[j] != first.Items[j] {
				t.Fatalf("run %d differs at %d: %+v vs %+v", i, j, again.Items[j], first.Items[j])
			}
		}
	}
}

func TestFuseMissingRankFallsBackToPosition(t *testing.T) {
	// Rank 为零时用列表位置（1 起）计分
	lists := []RankedList{
		{Source: "s", Items: []RankedItem{{ID: "a"}, {ID: "b"}}},
	}
	fused := Fuse(lists, 60)
	if math.Abs(fused.Items[0].Score-1.0/61) > 1e-12 {
		t.Fatalf("positional rank not applied: %v", fused.Items[0].Score)
	}
}

func TestFuseHandlesEmptyAndSingleList(t *testing.T) {
	fused := Fuse(nil, 60)
	if len(fused.Items) != 0 {
		t.Fatalf("expected empty result, got %d items", len(fused.Items))
	}

	fused = Fuse([]RankedList{{Source: "only", Items: []RankedItem{{ID: "a", Rank: 1}}}}, 60)
	if len(fused.Items) != 1 || fused.Items[0].ID != "a" {
		t.Fatalf("single-list fusion broken: %+v", fused.Items)
	}
	if len(fused.Sources) != 1 || fused.Sources[0] != "only" {
		t.Fatalf("sources not recorded: %v", fused.Sources)
	}
}

func TestFuseDefaultsKWhenInvalid(t *testing.T) {
	lists := []RankedList{{Items: []RankedItem{{ID: "a", Rank: 1}}}}
	fused := Fuse(lists, 0)
	if math.Abs(fused.Items[0].Score-1.0/61) > 1e-12 {
		t.Fatalf("k default not applied: %v", fused.Items[0].Score)
	}
}

func TestTruncateRanked(t *testing.T) {
	list := RankedList{Items: []RankedItem{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	out := TruncateRanked(list, 2)
	if len(out.Items) != 2 || out.Items[0].ID != "a" {
		t.Fatalf("truncate broken: %+v", out.Items)
	}
	out = TruncateRanked(list, 0)
	if len(out.Items) != 3 {
		t.Fatal("max<=0 must not truncate")
	}
}
