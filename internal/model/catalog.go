package model

import (
	"fmt"
	"strings"
)

type ItemType string

const (
	ItemHabitat    ItemType = "habitat"
	ItemAccessory  ItemType = "accessory"
	ItemToy        ItemType = "toy"
	ItemFood       ItemType = "food"
	ItemBackground ItemType = "background"
)

func (t ItemType) Valid() bool {
	switch t {
	case ItemHabitat, ItemAccessory, ItemToy, ItemFood, ItemBackground:
		return true
	}
	return false
}

type ManulType string

const (
	ManulStandard ManulType = "standard"
	ManulSnow     ManulType = "snow"
	ManulDesert   ManulType = "desert"
	ManulMountain ManulType = "mountain"
	ManulRare     ManulType = "rare"
)

func (t ManulType) Valid() bool {
	switch t {
	case ManulStandard, ManulSnow, ManulDesert, ManulMountain, ManulRare:
		return true
	}
	return false
}

type Item struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Type             ItemType `json:"type"`
	Cost             int64    `json:"cost"`
	ImageName        string   `json:"image_name"`
	IsSubscriberOnly bool     `json:"is_subscriber_only"`
}

func (i Item) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("%w: item id is required", ErrValidation)
	}
	if !i.Type.Valid() {
		return fmt.Errorf("%w: item %s has unknown type %q", ErrValidation, i.ID, i.Type)
	}
	if i.Cost < 0 {
		return fmt.Errorf("%w: item %s has negative cost", ErrValidation, i.ID)
	}
	return nil
}

type Manul struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Type             ManulType `json:"type"`
	UnlockCost       int64     `json:"unlock_cost"`
	IsSubscriberOnly bool      `json:"is_subscriber_only"`
	AppliedItemIDs   []string  `json:"applied_item_ids"`
}

func (m Manul) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: manul id is required", ErrValidation)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: manul %s has unknown type %q", ErrValidation, m.ID, m.Type)
	}
	if m.UnlockCost < 0 {
		return fmt.Errorf("%w: manul %s has negative unlock cost", ErrValidation, m.ID)
	}
	return nil
}
