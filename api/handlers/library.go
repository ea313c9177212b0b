package handlers

import (
	"net/http"
	"strings"

	"github.com/BaSui01/agentcircle/agent/library"
	"github.com/BaSui01/agentcircle/agent/runtime"
	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
)

const defaultLibraryLimit = 10

// LibraryHandler 共享图书馆检索
type LibraryHandler struct {
	rt     *runtime.Runtime
	logger *zap.Logger
}

// NewLibraryHandler 创建处理器
func NewLibraryHandler(rt *runtime.Runtime, logger *zap.Logger) *LibraryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LibraryHandler{rt: rt, logger: logger.With(zap.String("handler", "library"))}
}

// RegisterRoutes 注册图书馆路由
func (h *LibraryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/library", h.HandleSearch)
}

// HandleSearch 有 q 时按语义检索，否则返回最近的文档
func (h *LibraryHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	lib := h.rt.Deps().Library
	if lib == nil {
		WriteErrorMessage(w, types.ErrNotFound, "library is not configured", h.logger)
		return
	}
	limit := queryInt(r, "limit", defaultLibraryLimit)

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		docs, err := lib.List(r.Context(), limit)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		out := make([]library.SearchResult, 0, len(docs))
		for _, d := range docs {
			out = append(out, library.SearchResult{Document: d})
		}
		WriteSuccess(w, out)
		return
	}

	hits, err := h.rt.SearchLibrary(r.Context(), q, limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if hits == nil {
		hits = []library.SearchResult{}
	}
	WriteSuccess(w, hits)
}
