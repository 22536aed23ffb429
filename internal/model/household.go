package model

import "time"

// Scope identifies which local replica holds a record.
type Scope string

const (
	ScopeOwner     Scope = "owner"
	ScopeRecipient Scope = "recipient"
)

func (s Scope) Valid() bool {
	return s == ScopeOwner || s == ScopeRecipient
}

// Household is the root entity for sharing. An empty ID marks a household
// that has not been committed to a replica yet.
type Household struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Scope     Scope     `json:"scope"`
}

// Durable reports whether the household has a stable identity.
func (h *Household) Durable() bool {
	return h != nil && h.ID != ""
}

type Member struct {
	ID          string    `json:"id"`
	HouseholdID string    `json:"household_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
