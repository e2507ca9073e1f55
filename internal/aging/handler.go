package aging

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// Handler serves aging reports.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers the cross-kind summary.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/aging/summary", h.summary)
}

// MountKind registers per-kind routes inside a /receivables or /payables group.
func (h *Handler) MountKind(kind subledger.Kind, r chi.Router) {
	r.Get("/aging", h.report(kind))
	r.Get("/overdue", h.overdue(kind))
	r.Get("/statements/{counterpartyID}", h.statement(kind))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.GetAgingSummary(r.Context())
	if err != nil {
		h.fail(w, r, "aging summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) report(kind subledger.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := h.engine.GetAgingReport(r.Context(), kind)
		if err != nil {
			h.fail(w, r, "aging report", err)
			return
		}
		httpx.JSON(w, http.StatusOK, report)
	}
}

func (h *Handler) overdue(kind subledger.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := h.engine.GetOverdueDocuments(r.Context(), kind)
		if err != nil {
			h.fail(w, r, "overdue documents", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"documents": docs})
	}
}

func (h *Handler) statement(kind subledger.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := httpx.DateQuery(r, "from")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		to, err := httpx.DateQuery(r, "to")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		st, err := h.engine.GetCounterpartyStatement(r.Context(), kind, chi.URLParam(r, "counterpartyID"), from, to)
		if err != nil {
			h.fail(w, r, "counterparty statement", err)
			return
		}
		httpx.JSON(w, http.StatusOK, st)
	}
}
