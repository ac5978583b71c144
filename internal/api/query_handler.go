package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"queryfed/internal/domain/federation"
	applog "queryfed/internal/platform/log"
)

// QueryHandler 联邦查询 API
type QueryHandler struct {
	gateway *federation.Gateway
	schemas map[federation.Backend]federation.SchemaProvider
}

// NewQueryHandler 创建查询处理器
func NewQueryHandler(gateway *federation.Gateway, schemas map[federation.Backend]federation.SchemaProvider) *QueryHandler {
	return &QueryHandler{gateway: gateway, schemas: schemas}
}

// RegisterRoutes 注册查询路由
func (h *QueryHandler) RegisterRoutes(r chi.Router) {
	r.Route("/query", func(r chi.Router) {
		r.Post("/", h.Query)
		r.Get("/suggestions", h.Suggestions)
		r.Get("/schema/{backend}", h.Schema)
	})
}

// QueryRequest 自然语言查询请求
type QueryRequest struct {
	Question string `json:"question"`
	Backend  string `json:"backend,omitempty"` // 可选后端提示，优先于分类器
}

// Query 自然语言 → 后端查询 → 统一结果
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	hint := federation.Backend("")
	if req.Backend != "" {
		parsed, ok := federation.ParseBackend(req.Backend)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown backend %q", req.Backend))
			return
		}
		hint = parsed
	}

	answer, err := h.gateway.Answer(r.Context(), req.Question, hint)
	if err != nil {
		h.writeFederationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// Suggestions 基于 schema 的建议问题
func (h *QueryHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	type suggestion struct {
		Backend  federation.Backend `json:"backend"`
		Question string             `json:"question"`
	}

	var out []suggestion
	for _, backend := range federation.KnownBackends {
		provider, ok := h.schemas[backend]
		if !ok {
			continue
		}
		schema, err := provider.Describe(r.Context())
		if err != nil {
			applog.Warn("[Query] Schema unavailable for suggestions", "backend", backend, "error", err)
			continue
		}
		// 每个后端最多取两个实体，避免建议列表爆炸
		entities := schema.Entities
		if len(entities) > 2 {
			entities = entities[:2]
		}
		for _, entity := range entities {
			out = append(out, suggestion{
				Backend:  backend,
				Question: fmt.Sprintf("How many %s are there?", entity.Name),
			})
			if len(entity.Fields) > 0 {
				out = append(out, suggestion{
					Backend:  backend,
					Question: fmt.Sprintf("Show the latest %s sorted by %s", entity.Name, entity.Fields[0].Name),
				})
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"suggestions": out})
}

// Schema 查看某后端的内省快照（调试用）
func (h *QueryHandler) Schema(w http.ResponseWriter, r *http.Request) {
	backend, ok := federation.ParseBackend(chi.URLParam(r, "backend"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown backend")
		return
	}
	provider, ok := h.schemas[backend]
	if !ok {
		writeError(w, http.StatusNotFound, "backend not configured")
		return
	}
	schema, err := provider.Describe(r.Context())
	if err != nil {
		applog.Error("[Query] Schema introspection failed", "backend", backend, "error", err)
		writeError(w, http.StatusServiceUnavailable, "schema introspection failed")
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// writeFederationError 错误类别 → HTTP 状态码。
// 后端原生错误细节不进响应体，只进日志。
func (h *QueryHandler) writeFederationError(w http.ResponseWriter, err error) {
	kind := federation.KindOf(err)
	switch kind {
	case federation.KindClassificationFailed:
		writeError(w, http.StatusUnprocessableEntity, "could not determine a backend for this question")
	case federation.KindValidationRejected:
		reason := federation.RejectReasonOf(err)
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("generated query rejected: %s", reason))
	case federation.KindGenerationUnavailable:
		writeError(w, http.StatusServiceUnavailable, "query generation unavailable")
	case federation.KindExecutionTimeout:
		writeError(w, http.StatusGatewayTimeout, "query execution timed out")
	case federation.KindConnectionUnavailable:
		writeError(w, http.StatusServiceUnavailable, "backend unavailable")
	default:
		applog.Error("[Query] Execution failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query execution failed")
	}
}
