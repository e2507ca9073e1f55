package subledger

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// IdempotencyHeader carries the client key that deduplicates payment requests.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes receivable and payable documents over HTTP.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	validator  *validator.Validate
	extensions []func(Kind, chi.Router)
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// Extend registers additional routes inside each /receivables and /payables group.
// It must be called before MountRoutes.
func (h *Handler) Extend(fn func(Kind, chi.Router)) {
	h.extensions = append(h.extensions, fn)
}

// MountRoutes registers /receivables and /payables.
func (h *Handler) MountRoutes(r chi.Router) {
	for _, kind := range []Kind{KindReceivable, KindPayable} {
		r.Route("/"+kind.Slug()+"s", func(r chi.Router) {
			r.Get("/", h.list(kind))
			r.Post("/", h.create(kind))
			r.Get("/{id}", h.get(kind))
			r.Put("/{id}/lines", h.updateLines(kind))
			r.Post("/{id}/issue", h.issue(kind))
			r.Post("/{id}/payments", h.recordPayment(kind))
			r.Post("/{id}/cancel", h.cancel(kind))
			r.Delete("/{id}", h.delete(kind))
			if kind == KindPayable {
				r.Post("/{id}/approve", h.approve)
			}
			for _, ext := range h.extensions {
				ext(kind, r)
			}
		})
	}
}

type counterpartyRequest struct {
	ID    string `json:"id" validate:"required,max=64"`
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	TaxID string `json:"tax_id" validate:"max=64"`
}

type lineRequest struct {
	Description string          `json:"description" validate:"max=500"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   money.Money     `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

type createRequest struct {
	Number           string              `json:"number" validate:"max=64"`
	Counterparty     counterpartyRequest `json:"counterparty"`
	IssueDate        string              `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
	DueDate          string              `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Terms            string              `json:"terms" validate:"omitempty,oneof=NET_15 NET_30 NET_45 NET_60 DUE_ON_RECEIPT CUSTOM"`
	Currency         string              `json:"currency" validate:"omitempty,len=3"`
	Discount         money.Money         `json:"discount"`
	Lines            []lineRequest       `json:"lines" validate:"required,min=1,dive"`
	Notes            string              `json:"notes" validate:"max=2000"`
	ApprovalRequired bool                `json:"approval_required"`
	Issue            bool                `json:"issue"`
}

type updateLinesRequest struct {
	Lines    []lineRequest `json:"lines" validate:"required,min=1,dive"`
	Discount *money.Money  `json:"discount"`
	DueDate  string        `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Notes    *string       `json:"notes" validate:"omitempty,max=2000"`
}

type paymentRequest struct {
	Amount    money.Money `json:"amount"`
	Date      string      `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Method    string      `json:"method" validate:"omitempty,oneof=CASH BANK_TRANSFER CHEQUE CARD OTHER"`
	Reference string      `json:"reference" validate:"max=200"`
}

type approveRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return err
	}
	return h.validator.Struct(dst)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(httpx.DateLayout, raw)
	if err != nil {
		return nil
	}
	return &t
}

func toLineInputs(reqs []lineRequest) []LineInput {
	lines := make([]LineInput, 0, len(reqs))
	for _, l := range reqs {
		lines = append(lines, LineInput(l))
	}
	return lines
}

func (h *Handler) list(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
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
		page := shared.ParsePage(q.Get("page"), q.Get("per_page"))
		docs, err := h.service.List(r.Context(), ListFilter{
			Kind:           kind,
			Status:         Status(strings.ToUpper(q.Get("status"))),
			CounterpartyID: q.Get("counterparty_id"),
			IssuedFrom:     from,
			IssuedTo:       to,
			Limit:          page.PerPage,
			Offset:         page.Offset(),
		})
		if err != nil {
			h.fail(w, r, "list documents", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"documents": docs, "page": page.Page, "per_page": page.PerPage})
	}
}

func (h *Handler) create(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		in := CreateInput{
			Kind:             kind,
			Number:           req.Number,
			Counterparty:     Counterparty(req.Counterparty),
			DueDate:          parseDate(req.DueDate),
			Terms:            Terms(req.Terms),
			Currency:         req.Currency,
			Discount:         req.Discount,
			Lines:            toLineInputs(req.Lines),
			Notes:            req.Notes,
			ApprovalRequired: req.ApprovalRequired,
			Issue:            req.Issue,
			Actor:            shared.ActorFromContext(r.Context()),
		}
		if d := parseDate(req.IssueDate); d != nil {
			in.IssueDate = *d
		}
		doc, err := h.service.Create(r.Context(), in)
		if err != nil {
			h.fail(w, r, "create document", err)
			return
		}
		httpx.JSON(w, http.StatusCreated, doc)
	}
}

func (h *Handler) get(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		doc, err := h.service.Get(r.Context(), kind, id)
		if err != nil {
			h.fail(w, r, "get document", err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) updateLines(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req updateLinesRequest
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		doc, err := h.service.UpdateLines(r.Context(), UpdateLinesInput{
			Kind:     kind,
			ID:       id,
			Lines:    toLineInputs(req.Lines),
			Discount: req.Discount,
			DueDate:  parseDate(req.DueDate),
			Notes:    req.Notes,
			Actor:    shared.ActorFromContext(r.Context()),
		})
		if err != nil {
			h.fail(w, r, "update lines", err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) issue(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		doc, err := h.service.Issue(r.Context(), kind, id, shared.ActorFromContext(r.Context()))
		if err != nil {
			h.fail(w, r, "issue document", err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) recordPayment(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req paymentRequest
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		in := PaymentInput{
			Kind:           kind,
			DocumentID:     id,
			Amount:         req.Amount,
			Method:         PaymentMethod(req.Method),
			Reference:      req.Reference,
			IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
			Actor:          shared.ActorFromContext(r.Context()),
		}
		if d := parseDate(req.Date); d != nil {
			in.Date = *d
		}
		doc, payment, err := h.service.RecordPayment(r.Context(), in)
		if err != nil {
			h.fail(w, r, "record payment", err)
			return
		}
		httpx.JSON(w, http.StatusCreated, map[string]any{"document": doc, "payment": payment})
	}
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req approveRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	doc, err := h.service.Approve(r.Context(), ApproveInput{
		ID:         id,
		ApprovedBy: shared.ActorFromContext(r.Context()),
		Notes:      req.Notes,
	})
	if err != nil {
		h.fail(w, r, "approve document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) cancel(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req cancelRequest
		if r.ContentLength != 0 {
			if err := h.decode(r, &req); err != nil {
				httpx.RespondError(w, err)
				return
			}
		}
		doc, err := h.service.Cancel(r.Context(), kind, id, shared.ActorFromContext(r.Context()), req.Reason)
		if err != nil {
			h.fail(w, r, "cancel document", err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) delete(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.service.Delete(r.Context(), kind, id, shared.ActorFromContext(r.Context())); err != nil {
			h.fail(w, r, "delete document", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
