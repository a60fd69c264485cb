// Package market is the fixed catalog of items redeemable for points.
package market

import (
	"errors"
	"fmt"
)

// Sentinel errors for purchases.
var (
	ErrUnknownItem      = errors.New("unknown market item")
	ErrAlreadyPurchased = errors.New("item already purchased")
)

// Item is a redeemable reward.
type Item struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// Listing is an item annotated for one viewer.
type Listing struct {
	Item
	Bought bool `json:"bought"`
}

// Catalog is an ordered, immutable item list.
type Catalog struct {
	items []Item
	byID  map[string]Item
}

// NewCatalog indexes items. Ids must be unique and prices positive.
func NewCatalog(items []Item) (*Catalog, error) {
	c := &Catalog{items: append([]Item(nil), items...), byID: make(map[string]Item, len(items))}
	for _, it := range items {
		if it.ID == "" || it.Price <= 0 {
			return nil, fmt.Errorf("invalid market item %+v", it)
		}
		if _, dup := c.byID[it.ID]; dup {
			return nil, fmt.Errorf("duplicate market item %q", it.ID)
		}
		c.byID[it.ID] = it
	}
	return c, nil
}

// DefaultCatalog is the event's six-item catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Item{
		{ID: "majjj", Name: "마이쮸(원하는맛)", Price: 1006},
		{ID: "banana", Name: "바나나우유", Price: 2025},
		{ID: "seolleim", Name: "설레임", Price: 12345},
		{ID: "ediya_vl", Name: "이디야 바닐라라떼 L", Price: 31415},
		{ID: "mom_set", Name: "맘스터치 싸이버거 세트", Price: 54321},
		{ID: "bbq", Name: "BBQ황금올리브+콜라1.25L", Price: 173205},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// Items returns the catalog in display order.
func (c *Catalog) Items() []Item {
	return append([]Item(nil), c.items...)
}

// Get looks up an item by id.
func (c *Catalog) Get(id string) (Item, error) {
	it, ok := c.byID[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	return it, nil
}

// Listings marks which items are already owned.
func (c *Catalog) Listings(owned []string) []Listing {
	have := make(map[string]struct{}, len(owned))
	for _, id := range owned {
		have[id] = struct{}{}
	}
	out := make([]Listing, len(c.items))
	for i, it := range c.items {
		_, bought := have[it.ID]
		out[i] = Listing{Item: it, Bought: bought}
	}
	return out
}
