package domain

import "time"

// Item is an inventory record, the protected resource behind the bearer
// endpoints.
type Item struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Quantity    int64     `json:"quantity"`
	Price       float64   `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ItemFilter narrows and orders inventory listings.
type ItemFilter struct {
	Name          string
	MinQuantity   *int64
	MaxQuantity   *int64
	MinPrice      *float64
	MaxPrice      *float64
	SortBy        string
	SortDirection string
	Page          int
	PerPage       int
}
