package inventory

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no asset matches a lookup
var ErrNotFound = errors.New("asset not found")

// Asset is an inventory row verified by scanning its serial label
type Asset struct {
	ID         string     `json:"id"`
	Serial     string     `json:"serial"`
	Name       string     `json:"name"`
	Location   string     `json:"location,omitempty"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
