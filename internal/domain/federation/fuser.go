package federation

import "sort"

// ── Hybrid Rank Fuser ────────────────────────────────────────
//
// Reciprocal Rank Fusion：score(d) = Σ 1/(k + rank_i(d))，k=60（标准参数）。
// 只用排名位置，不比较跨后端的原生分数（cosine 距离、BM25 分数、
// 相似度各自量纲不可比），因此无需做分数归一化。

// Fuse 融合多个排名列表为一个有序结果。
// 纯函数、同步、确定性：fused score 降序，同分按 item-id 升序。
// 只出现在部分列表里的条目照常计分（不要求全列表命中）。
func Fuse(lists []RankedList, k int) *FusedResult {
	if k <= 0 {
		k = 60
	}

	scores := make(map[string]float64)
	sources := make([]string, 0, len(lists))

	for _, list := range lists {
		if list.Source != "" {
			sources = append(sources, list.Source)
		}
		for i, item := range list.Items {
			rank := item.Rank
			if rank <= 0 {
				rank = i + 1
			}
			scores[item.ID] += 1.0 / float64(k+rank)
		}
	}

	items := make([]FusedItem, 0, len(scores))
	for id, score := range scores {
		items = append(items, FusedItem{ID: id, Score: score})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})

	return &FusedResult{Items: items, Sources: sources}
}

// TruncateRanked 按上限截断排名列表，保留原生顺序
func TruncateRanked(list RankedList, max int) RankedList {
	if max > 0 && len(list.Items) > max {
		list.Items = list.Items[:max]
	}
	return list
}
