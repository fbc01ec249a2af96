package model

import (
	"fmt"
	"slices"
	"time"
)

const (
	// StarterManulID is granted to every new user on registration.
	StarterManulID = "standard-manul"
	// StarterCurrency is the opening balance of a new user.
	StarterCurrency int64 = 100
)

type User struct {
	ID                string              `json:"id"`
	Email             string              `json:"email"`
	DisplayName       string              `json:"display_name"`
	JoinDate          time.Time           `json:"join_date"`
	Currency          int64               `json:"currency"`
	IsSubscriber      bool                `json:"is_subscriber"`
	LastQuizCompleted *string             `json:"last_quiz_completed"`
	CompletedQuizIDs  []string            `json:"completed_quiz_ids"`
	OwnedManulIDs     []string            `json:"owned_manul_ids"`
	ActiveManulID     *string             `json:"active_manul_id"`
	OwnedItemIDs      []string            `json:"owned_item_ids"`
	AppliedItems      map[string][]string `json:"applied_items"`
}

// NewUser returns the ledger a freshly signed-up user starts with.
func NewUser(id, email, displayName string, now time.Time) *User {
	active := StarterManulID
	return &User{
		ID:               id,
		Email:            email,
		DisplayName:      displayName,
		JoinDate:         now.UTC(),
		Currency:         StarterCurrency,
		CompletedQuizIDs: []string{},
		OwnedManulIDs:    []string{StarterManulID},
		ActiveManulID:    &active,
		OwnedItemIDs:     []string{},
		AppliedItems:     map[string][]string{},
	}
}

func (u *User) OwnsItem(itemID string) bool {
	return slices.Contains(u.OwnedItemIDs, itemID)
}

func (u *User) OwnsManul(manulID string) bool {
	return slices.Contains(u.OwnedManulIDs, manulID)
}

func (u *User) HasCompleted(quizID string) bool {
	return slices.Contains(u.CompletedQuizIDs, quizID)
}

// Validate checks the ledger invariants that must hold after every write.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if u.Currency < 0 {
		return fmt.Errorf("%w: currency must not be negative, got %d", ErrValidation, u.Currency)
	}
	if u.ActiveManulID != nil && !u.OwnsManul(*u.ActiveManulID) {
		return fmt.Errorf("%w: active manul %q is not owned", ErrValidation, *u.ActiveManulID)
	}
	return nil
}

// Clone returns a deep copy so staged mutations never alias stored state.
func (u *User) Clone() *User {
	c := *u
	c.CompletedQuizIDs = slices.Clone(u.CompletedQuizIDs)
	c.OwnedManulIDs = slices.Clone(u.OwnedManulIDs)
	c.OwnedItemIDs = slices.Clone(u.OwnedItemIDs)
	if u.LastQuizCompleted != nil {
		v := *u.LastQuizCompleted
		c.LastQuizCompleted = &v
	}
	if u.ActiveManulID != nil {
		v := *u.ActiveManulID
		c.ActiveManulID = &v
	}
	c.AppliedItems = make(map[string][]string, len(u.AppliedItems))
	for k, v := range u.AppliedItems {
		c.AppliedItems[k] = slices.Clone(v)
	}
	return &c
}
