// Package catalog defines the payable service catalog entities.
package catalog

import "time"

// Service describes a payable service offering. The ID is supplied by the
// administrator at creation time and never changes.
type Service struct {
	ID          string    `json:"service_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	BasePrice   float64   `json:"base_price"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Update carries the mutable service fields. Nil pointers leave the current
// value untouched.
type Update struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	BasePrice   *float64 `json:"base_price,omitempty"`
}
