package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ErrInvalidCurrency indicates a currency outside the enabled set.
var ErrInvalidCurrency = shared.NewError(shared.KindValidation, "accounting: invalid currency")

// CreateAccount validates and stores a new account with a zero balance.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	in.Number = strings.TrimSpace(in.Number)
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Account{}, fmt.Errorf("%w: name required", ErrInvalidAccount)
	}
	in.Type = AccountType(strings.ToUpper(string(in.Type)))
	if err := validateAccountNumber(in.Number, in.Type); err != nil {
		return Account{}, err
	}
	category, err := resolveCategory(in.Type, in.Category)
	if err != nil {
		return Account{}, err
	}
	currency, err := s.currencies.Resolve(in.Currency)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidCurrency, err)
	}
	allow := true
	if in.AllowTransactions != nil {
		allow = *in.AllowTransactions
	}

	var created Account
	err = s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccountByNumber(ctx, in.Number); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateAccountNumber, in.Number)
		} else if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		if in.ParentID != nil {
			if err := checkParent(ctx, tx, 0, *in.ParentID, in.Type); err != nil {
				return err
			}
		}
		now := s.now()
		var err error
		created, err = tx.InsertAccount(ctx, Account{
			Number:            in.Number,
			Name:              in.Name,
			Type:              in.Type,
			Category:          category,
			ParentID:          in.ParentID,
			Currency:          currency,
			Balance:           money.Zero,
			IsActive:          true,
			AllowTransactions: allow,
			Description:       in.Description,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.recordAccountEvent(ctx, in.Actor, "account.create", created)
	return created, nil
}

// UpdateAccount changes mutable attributes. Number and type never change.
func (s *Service) UpdateAccount(ctx context.Context, in UpdateAccountInput) (Account, error) {
	var updated Account
	err := s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		acc, err := tx.GetAccountForUpdate(ctx, in.ID)
		if err != nil {
			return err
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return fmt.Errorf("%w: name required", ErrInvalidAccount)
			}
			acc.Name = name
		}
		if in.Description != nil {
			acc.Description = *in.Description
		}
		if in.Category != nil {
			category, err := resolveCategory(acc.Type, *in.Category)
			if err != nil {
				return err
			}
			acc.Category = category
		}
		if in.ClearParent {
			acc.ParentID = nil
		} else if in.ParentID != nil {
			if err := checkParent(ctx, tx, acc.ID, *in.ParentID, acc.Type); err != nil {
				return err
			}
			parent := *in.ParentID
			acc.ParentID = &parent
		}
		if in.AllowTransactions != nil {
			acc.AllowTransactions = *in.AllowTransactions
		}
		acc.UpdatedAt = s.now()
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return err
		}
		updated = acc
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.recordAccountEvent(ctx, in.Actor, "account.update", updated)
	return updated, nil
}

// DeactivateAccount soft deletes an account. History is kept; the balance must be
// zero so the trial balance stays complete.
func (s *Service) DeactivateAccount(ctx context.Context, id int64, actor string) (Account, error) {
	var acc Account
	err := s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		acc, err = tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !acc.Balance.IsZero() {
			return fmt.Errorf("%w: %s carries %s", ErrAccountHasBalance, acc.Number, acc.Balance)
		}
		acc.IsActive = false
		acc.UpdatedAt = s.now()
		return tx.UpdateAccount(ctx, acc)
	})
	if err != nil {
		return Account{}, err
	}
	s.recordAccountEvent(ctx, actor, "account.deactivate", acc)
	return acc, nil
}

func checkParent(ctx context.Context, tx TxRepository, selfID, parentID int64, typ AccountType) error {
	if selfID != 0 && parentID == selfID {
		return fmt.Errorf("%w: account cannot parent itself", ErrParentTypeMismatch)
	}
	parent, err := tx.GetAccount(ctx, parentID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return fmt.Errorf("%w: parent %d", ErrAccountNotFound, parentID)
		}
		return err
	}
	if parent.Type != typ {
		return fmt.Errorf("%w: parent %s is %s, account is %s", ErrParentTypeMismatch, parent.Number, parent.Type, typ)
	}
	if selfID == 0 {
		return nil
	}
	for cursor := parent.ParentID; cursor != nil; {
		if *cursor == selfID {
			return fmt.Errorf("%w: parent %s would create a cycle", ErrParentTypeMismatch, parent.Number)
		}
		ancestor, err := tx.GetAccount(ctx, *cursor)
		if err != nil {
			return err
		}
		cursor = ancestor.ParentID
	}
	return nil
}

func (s *Service) recordAccountEvent(ctx context.Context, actor, action string, acc Account) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "account",
		EntityID: strconv.FormatInt(acc.ID, 10),
		Meta:     map[string]any{"number": acc.Number, "type": string(acc.Type)},
		At:       s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// GetAccount returns one account by id.
func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	var acc Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		acc, err = tx.GetAccount(ctx, id)
		return err
	})
	return acc, err
}

// GetAccountByNumber returns one account by its chart number.
func (s *Service) GetAccountByNumber(ctx context.Context, number string) (Account, error) {
	var acc Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		acc, err = tx.GetAccountByNumber(ctx, strings.TrimSpace(number))
		return err
	})
	return acc, err
}

// ListAccounts retrieves all chart of accounts entries ordered by number.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx)
		return err
	})
	return accounts, err
}

// GetBalance returns the stored debit-positive balance.
func (s *Service) GetBalance(ctx context.Context, id int64) (money.Money, error) {
	acc, err := s.GetAccount(ctx, id)
	if err != nil {
		return money.Zero, err
	}
	return acc.Balance, nil
}

// GetHierarchy returns the chart as a forest rooted at accounts without a parent.
func (s *Service) GetHierarchy(ctx context.Context) ([]AccountNode, error) {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return BuildHierarchy(accounts), nil
}

// BuildHierarchy groups accounts by parent. Accounts whose parent is absent from the
// input are treated as roots. Siblings are ordered by number.
func BuildHierarchy(accounts []Account) []AccountNode {
	byID := make(map[int64]bool, len(accounts))
	for _, acc := range accounts {
		byID[acc.ID] = true
	}
	children := make(map[int64][]Account)
	var roots []Account
	for _, acc := range accounts {
		if acc.ParentID == nil || !byID[*acc.ParentID] {
			roots = append(roots, acc)
			continue
		}
		children[*acc.ParentID] = append(children[*acc.ParentID], acc)
	}
	visited := make(map[int64]bool, len(accounts))
	var build func(acc Account) AccountNode
	build = func(acc Account) AccountNode {
		visited[acc.ID] = true
		node := AccountNode{Account: acc, Children: []AccountNode{}}
		kids := children[acc.ID]
		sortByNumber(kids)
		for _, child := range kids {
			if visited[child.ID] {
				continue
			}
			node.Children = append(node.Children, build(child))
		}
		return node
	}
	sortByNumber(roots)
	forest := make([]AccountNode, 0, len(roots))
	for _, root := range roots {
		forest = append(forest, build(root))
	}
	return forest
}

func sortByNumber(accounts []Account) {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Number < accounts[j].Number })
}

// GetTrialBalance partitions accounts by type and totals them. Inactive accounts
// are listed only while they still carry a balance.
func (s *Service) GetTrialBalance(ctx context.Context) (reports.TrialBalance, error) {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return reports.TrialBalance{}, err
	}
	rows := make([]reports.AccountBalance, 0, len(accounts))
	for _, acc := range accounts {
		if !acc.IsActive && acc.Balance.IsZero() {
			continue
		}
		rows = append(rows, reports.AccountBalance{
			Number:       acc.Number,
			Name:         acc.Name,
			Type:         string(acc.Type),
			CreditNormal: acc.Type.CreditNormal(),
			Balance:      acc.Balance,
		})
	}
	order := make([]string, 0, len(AccountTypes))
	for _, t := range AccountTypes {
		order = append(order, string(t))
	}
	return reports.BuildTrialBalance(rows, order), nil
}
