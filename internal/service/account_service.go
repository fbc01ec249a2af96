package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"manulmonday/economy/internal/model"
)

const (
	maxDisplayNameLength = 64
	defaultReceiptLimit  = 50
	maxReceiptLimit      = 200
)

// RegisterUser opens a ledger for a newly authenticated user with the
// starter balance and the starter manul active.
func (s *EconomyService) RegisterUser(ctx context.Context, userID, email, displayName string) (*model.User, error) {
	displayName = strings.TrimSpace(displayName)
	if err := validateDisplayName(displayName); err != nil {
		return nil, err
	}
	user := model.NewUser(userID, strings.TrimSpace(email), displayName, s.opts.Now())
	if err := user.Validate(); err != nil {
		return nil, err
	}

	err := s.atomically(ctx, "register_user", userID, func(ctx context.Context) error {
		return s.ledger.CreateUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.String("user_id", userID))
	return user, nil
}

func (s *EconomyService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	user, err := s.ledger.GetUser(ctx, userID)
	return user, storeError(err)
}

func (s *EconomyService) UpdateDisplayName(ctx context.Context, userID, displayName string) (*model.User, error) {
	displayName = strings.TrimSpace(displayName)
	if err := validateDisplayName(displayName); err != nil {
		return nil, err
	}
	return s.mutateUser(ctx, "update_profile", userID, func(u *model.User) error {
		u.DisplayName = displayName
		return nil
	})
}

// SetActiveManul switches the displayed manul to another one the user owns.
func (s *EconomyService) SetActiveManul(ctx context.Context, userID, manulID string) (*model.User, error) {
	return s.mutateUser(ctx, "set_active_manul", userID, func(u *model.User) error {
		if !u.OwnsManul(manulID) {
			return fmt.Errorf("%w: manul %s", model.ErrNotOwned, manulID)
		}
		u.ActiveManulID = &manulID
		return nil
	})
}

// ApplyItem puts an owned item on an owned manul. Applying twice is a no-op.
func (s *EconomyService) ApplyItem(ctx context.Context, userID, manulID, itemID string) (*model.User, error) {
	return s.mutateUser(ctx, "apply_item", userID, func(u *model.User) error {
		if !u.OwnsManul(manulID) {
			return fmt.Errorf("%w: manul %s", model.ErrNotOwned, manulID)
		}
		if !u.OwnsItem(itemID) {
			return fmt.Errorf("%w: item %s", model.ErrNotOwned, itemID)
		}
		if u.AppliedItems == nil {
			u.AppliedItems = map[string][]string{}
		}
		if !slices.Contains(u.AppliedItems[manulID], itemID) {
			u.AppliedItems[manulID] = append(u.AppliedItems[manulID], itemID)
		}
		return nil
	})
}

// RemoveItem takes an item off a manul, keeping the order of the rest.
func (s *EconomyService) RemoveItem(ctx context.Context, userID, manulID, itemID string) (*model.User, error) {
	return s.mutateUser(ctx, "remove_item", userID, func(u *model.User) error {
		if !u.OwnsManul(manulID) {
			return fmt.Errorf("%w: manul %s", model.ErrNotOwned, manulID)
		}
		applied := slices.DeleteFunc(u.AppliedItems[manulID], func(id string) bool { return id == itemID })
		if len(applied) == 0 {
			delete(u.AppliedItems, manulID)
		} else {
			u.AppliedItems[manulID] = applied
		}
		return nil
	})
}

// ListReceipts returns the newest receipts of a user, optionally of one kind.
func (s *EconomyService) ListReceipts(ctx context.Context, userID string, kind model.ReceiptKind, limit int) ([]model.Receipt, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown receipt kind %q", model.ErrValidation, kind)
	}
	if limit <= 0 {
		limit = defaultReceiptLimit
	}
	limit = min(limit, maxReceiptLimit)

	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	if _, err := s.ledger.GetUser(ctx, userID); err != nil {
		return nil, storeError(err)
	}
	receipts, err := s.ledger.ListReceipts(ctx, userID, kind, limit)
	return receipts, storeError(err)
}

func (s *EconomyService) mutateUser(ctx context.Context, operation, userID string, mutate func(u *model.User) error) (*model.User, error) {
	var updated *model.User
	err := s.atomically(ctx, operation, userID, func(ctx context.Context) error {
		u, err := s.ledger.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if err := mutate(u); err != nil {
			return err
		}
		if err := u.Validate(); err != nil {
			return err
		}
		if err := s.ledger.SaveUser(ctx, u); err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func validateDisplayName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: display name is required", model.ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return fmt.Errorf("%w: display name longer than %d characters", model.ErrValidation, maxDisplayNameLength)
	}
	return nil
}
