package accounting

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler wires chart of accounts, journal and ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.listAccounts)
		r.Post("/", h.createAccount)
		r.Get("/hierarchy", h.hierarchy)
		r.Get("/by-number/{number}", h.accountByNumber)
		r.Get("/{id}", h.getAccount)
		r.Patch("/{id}", h.updateAccount)
		r.Delete("/{id}", h.deactivateAccount)
		r.Get("/{id}/balance", h.accountBalance)
		r.Get("/{id}/ledger", h.accountLedger)
		r.Get("/{id}/summary", h.accountSummary)
	})
	r.Route("/journals", func(r chi.Router) {
		r.Get("/", h.listJournals)
		r.Post("/", h.postJournal)
		r.Get("/{id}", h.getJournal)
		r.Post("/{id}/reverse", h.reverseJournal)
	})
	r.Get("/ledger", h.ledger)
	r.Get("/reports/trial-balance", h.trialBalance)
}

type createAccountRequest struct {
	Number            string `json:"number" validate:"required,numeric,len=4"`
	Name              string `json:"name" validate:"required,max=200"`
	Type              string `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	Category          string `json:"category"`
	ParentID          *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	Currency          string `json:"currency" validate:"omitempty,len=3"`
	AllowTransactions *bool  `json:"allow_transactions"`
	Description       string `json:"description" validate:"max=1000"`
}

type updateAccountRequest struct {
	Name              *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description       *string `json:"description" validate:"omitempty,max=1000"`
	Category          *string `json:"category"`
	ParentID          *int64  `json:"parent_id" validate:"omitempty,gt=0"`
	ClearParent       bool    `json:"clear_parent"`
	AllowTransactions *bool   `json:"allow_transactions"`
}

type postingLineRequest struct {
	AccountID     int64       `json:"account_id" validate:"required_without=AccountNumber"`
	AccountNumber string      `json:"account_number" validate:"required_without=AccountID"`
	Debit         money.Money `json:"debit"`
	Credit        money.Money `json:"credit"`
	Description   string      `json:"description"`
	Department    string      `json:"department"`
}

type postingRequest struct {
	Number        int64                `json:"number" validate:"gte=0"`
	Date          string               `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Reference     string               `json:"reference"`
	Description   string               `json:"description"`
	Department    string               `json:"department"`
	Module        string               `json:"module"`
	ReferenceType string               `json:"reference_type" validate:"required_with=ReferenceID"`
	ReferenceID   string               `json:"reference_id" validate:"required_with=ReferenceType"`
	Lines         []postingLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type reverseRequest struct {
	Description string `json:"description"`
	Date        string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return err
	}
	return h.validator.Struct(dst)
}

// fail writes err and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// failLookup treats a missing account addressed by the URL as 404 rather than a bad reference.
func (h *Handler) failLookup(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, ErrAccountNotFound) {
		httpx.Problem(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), err.Error(), string(shared.KindNotFound))
		return
	}
	h.fail(w, r, op, err)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, r, "list accounts", err)
		return
	}
	if typ := strings.ToUpper(r.URL.Query().Get("type")); typ != "" {
		filtered := accounts[:0]
		for _, acc := range accounts {
			if string(acc.Type) == typ {
				filtered = append(filtered, acc)
			}
		}
		accounts = filtered
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.CreateAccount(r.Context(), CreateAccountInput{
		Number:            req.Number,
		Name:              req.Name,
		Type:              AccountType(req.Type),
		Category:          AccountCategory(strings.ToUpper(req.Category)),
		ParentID:          req.ParentID,
		Currency:          req.Currency,
		AllowTransactions: req.AllowTransactions,
		Description:       req.Description,
		Actor:             shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acc)
}

func (h *Handler) hierarchy(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.service.GetHierarchy(r.Context())
	if err != nil {
		h.fail(w, r, "account hierarchy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": nodes})
}

func (h *Handler) accountByNumber(w http.ResponseWriter, r *http.Request) {
	acc, err := h.service.GetAccountByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.failLookup(w, r, "get account by number", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.failLookup(w, r, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateAccountRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := UpdateAccountInput{
		ID:                id,
		Name:              req.Name,
		Description:       req.Description,
		ParentID:          req.ParentID,
		ClearParent:       req.ClearParent,
		AllowTransactions: req.AllowTransactions,
		Actor:             shared.ActorFromContext(r.Context()),
	}
	if req.Category != nil {
		c := AccountCategory(strings.ToUpper(*req.Category))
		in.Category = &c
	}
	acc, err := h.service.UpdateAccount(r.Context(), in)
	if err != nil {
		h.fail(w, r, "update account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *Handler) deactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.DeactivateAccount(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.failLookup(w, r, "deactivate account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *Handler) accountBalance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.failLookup(w, r, "account balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"account_id":     acc.ID,
		"number":         acc.Number,
		"balance":        acc.Balance,
		"normal_balance": acc.NormalBalance(),
		"currency":       acc.Currency,
	})
}

func dateRangeQuery(r *http.Request) (DateRange, error) {
	from, err := httpx.DateQuery(r, "from")
	if err != nil {
		return DateRange{}, err
	}
	to, err := httpx.DateQuery(r, "to")
	if err != nil {
		return DateRange{}, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return DateRange{}, shared.Validationf("accounting: from must not be after to")
	}
	return DateRange{From: from, To: to}, nil
}

func (h *Handler) accountLedger(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rng, err := dateRangeQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.GetAccountLedger(r.Context(), id, rng)
	if err != nil {
		h.failLookup(w, r, "account ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": rows})
}

func (h *Handler) accountSummary(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rng, err := dateRangeQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.GetAccountSummary(r.Context(), id, rng)
	if err != nil {
		h.failLookup(w, r, "account summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	rng, err := dateRangeQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	page := shared.ParsePage(q.Get("page"), q.Get("per_page"))
	entries, err := h.service.ListJournalEntries(r.Context(), JournalFilter{
		Range:         rng,
		Module:        q.Get("module"),
		ReferenceType: q.Get("reference_type"),
		ReferenceID:   q.Get("reference_id"),
		Limit:         page.PerPage,
		Offset:        page.Offset(),
	})
	if err != nil {
		h.fail(w, r, "list journals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "page": page.Page, "per_page": page.PerPage})
}

func (h *Handler) postJournal(w http.ResponseWriter, r *http.Request) {
	var req postingRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := PostingInput{
		Number:        req.Number,
		Reference:     req.Reference,
		Description:   req.Description,
		Department:    req.Department,
		Module:        req.Module,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		CreatedBy:     shared.ActorFromContext(r.Context()),
	}
	if req.Date != "" {
		in.Date, _ = time.Parse(httpx.DateLayout, req.Date)
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, PostingLineInput(line))
	}
	entry, err := h.service.Post(r.Context(), in)
	if err != nil {
		h.fail(w, r, "post journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.GetJournalEntry(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) reverseJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	in := ReverseInput{EntryID: id, Actor: shared.ActorFromContext(r.Context()), Description: req.Description}
	if req.Date != "" {
		d, _ := time.Parse(httpx.DateLayout, req.Date)
		in.Date = &d
	}
	entry, err := h.service.Reverse(r.Context(), in)
	if err != nil {
		h.fail(w, r, "reverse journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	rng, err := dateRangeQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := LedgerFilter{Range: rng, Department: q.Get("department"), Module: q.Get("module")}
	if filter.Limit, err = httpx.IntQuery(r, "limit"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Offset, err = httpx.IntQuery(r, "offset"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	accountID, err := httpx.IntQuery(r, "account_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entryID, err := httpx.IntQuery(r, "journal_entry_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.AccountID = int64(accountID)
	filter.JournalEntryID = int64(entryID)
	rows, err := h.service.GetLedger(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": rows})
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := h.service.GetTrialBalance(r.Context())
	if err != nil {
		h.fail(w, r, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"trial_balance": tb,
		"balanced":      tb.Balanced(),
		"net_income":    tb.NetIncome(),
	})
}
