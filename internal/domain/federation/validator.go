package federation

import (
	"fmt"
	"regexp"
	"strings"
)

// ── Safety Validator ─────────────────────────────────────────
//
// 纯函数：只依赖查询文本与方言标签，不访问网络或数据库。
// 生成的查询必须先通过校验才允许执行，没有投机执行。

// sqlDenylist SQL 侧禁用关键字。故意比"必须以 SELECT 开头"更严：
// 即使关键字藏在子查询或堆叠语句里也拒绝。
var sqlDenylist = regexp.MustCompile(`(?i)\b(drop|delete|update|insert|alter|truncate|create|exec|execute|grant|revoke|merge)\b`)

// docDenylist 文档库侧的写入/执行算子
var docDenylist = regexp.MustCompile(`(?i)\$(out|merge|where|function|accumulator)\b|\b(insertone|insertmany|updateone|updatemany|deleteone|deletemany|replaceone|findandmodify|findoneanddelete|findoneandreplace|findoneandupdate|mapreduce|drop|dropdatabase|dropindexes|renamecollection|bulkwrite)\b`)

// capBypassSQL 显式解除行数上限的写法（LIMIT ALL / LIMIT NULL）
var capBypassSQL = regexp.MustCompile(`(?i)\blimit\s+(all|null)\b`)

// capBypassDoc 文档查询里 "limit": 0 表示不限量
var capBypassDoc = regexp.MustCompile(`"limit"\s*:\s*0(\.0+)?\s*[,}]`)

// Validate 校验候选查询，返回接受或带原因的拒绝。
// 同一输入恒定得到同一结论（幂等）。
func Validate(q CandidateQuery) ValidationVerdict {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return reject(RejectNotReadOnly, "empty query text")
	}

	switch q.Dialect {
	case DialectRelational:
		return validateRelational(text)
	case DialectDocumentFilter, DialectDocumentAggregation:
		return validateDocument(text)
	case DialectVectorSemantic:
		// 向量检索由本系统构造，结构上只读；denylist 作为加固仍然跑一遍
		if loc := sqlDenylist.FindString(text); loc != "" {
			return reject(RejectDeniedKeyword, fmt.Sprintf("denied keyword %q", strings.ToUpper(loc)))
		}
		return ValidationVerdict{Accepted: true}
	default:
		return reject(RejectNotReadOnly, fmt.Sprintf("unknown dialect %q", q.Dialect))
	}
}

func validateRelational(text string) ValidationVerdict {
	stripped := stripSQLComments(text)
	stripped = strings.TrimSpace(stripped)

	// 允许结尾出现一个分号，其余一律算语句堆叠
	trimmed := strings.TrimRight(stripped, " \t\r\n")
	trimmed = strings.TrimSuffix(trimmed, ";")

	if !hasPrefixFold(strings.TrimSpace(trimmed), "SELECT") {
		return reject(RejectNotReadOnly, "statement must begin with SELECT")
	}

	if kw := sqlDenylist.FindString(trimmed); kw != "" {
		return reject(RejectDeniedKeyword, fmt.Sprintf("denied keyword %q", strings.ToUpper(kw)))
	}

	if hasBareSeparator(trimmed) {
		return reject(RejectMultipleStatements, "statement separator outside string literal")
	}

	if capBypassSQL.MatchString(trimmed) {
		return reject(RejectCapBypass, "explicit unbounded LIMIT")
	}

	return ValidationVerdict{Accepted: true}
}

func validateDocument(text string) ValidationVerdict {
	if kw := docDenylist.FindString(text); kw != "" {
		return reject(RejectDeniedKeyword, fmt.Sprintf("denied operator %q", kw))
	}
	// SQL 关键字出现在文档查询文本里同样拒绝（防方言混淆注入）
	if kw := findSQLKeywordOutsideStrings(text); kw != "" {
		return reject(RejectDeniedKeyword, fmt.Sprintf("denied keyword %q", strings.ToUpper(kw)))
	}
	if capBypassDoc.MatchString(text) {
		return reject(RejectCapBypass, `"limit": 0 disables the result cap`)
	}
	return ValidationVerdict{Accepted: true}
}

func reject(reason RejectReason, detail string) ValidationVerdict {
	return ValidationVerdict{Accepted: false, Reason: reason, Detail: detail}
}

// ── text scanning helpers ────────────────────────────────────

// stripSQLComments 去除 -- 行注释与 /* */ 块注释，字符串字面量内的不动
func stripSQLComments(text string) string {
	var sb strings.Builder
	runes := []rune(text)
	inSingle, inDouble := false, false

	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if !inSingle && !inDouble {
			if ch == '-' && i+1 < len(runes) && runes[i+1] == '-' {
				for i < len(runes) && runes[i] != '\n' {
					i++
				}
				sb.WriteRune(' ')
				continue
			}
			if ch == '/' && i+1 < len(runes) && runes[i+1] == '*' {
				i += 2
				for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
					i++
				}
				i++ // 跳过结尾 '/'
				sb.WriteRune(' ')
				continue
			}
		}

		switch ch {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

// hasBareSeparator 扫描字符串字面量之外的分号
func hasBareSeparator(text string) bool {
	inSingle, inDouble := false, false
	for _, ch := range text {
		switch ch {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case ';':
			if !inSingle && !inDouble {
				return true
			}
		}
	}
	return false
}

// findSQLKeywordOutsideStrings 在 JSON 字符串值之外查找 SQL 禁用关键字。
// 文档查询的 filter 值里允许出现 "update" 之类的普通单词。
func findSQLKeywordOutsideStrings(text string) string {
	var sb strings.Builder
	inString, escaped := false, false
	for _, ch := range text {
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			sb.WriteRune(' ')
			continue
		}
		sb.WriteRune(ch)
	}
	return sqlDenylist.FindString(sb.String())
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
