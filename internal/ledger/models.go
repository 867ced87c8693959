package ledger

import "time"

// ModificationType identifies what produced a Modification.
type ModificationType string

const (
	StyleSwap     ModificationType = "style_swap"
	FloorPlanEdit ModificationType = "floor_plan_edit"
	WishlistItem  ModificationType = "wishlist_item"
)

// Valid reports whether t is one of the known modification types.
func (t ModificationType) Valid() bool {
	switch t {
	case StyleSwap, FloorPlanEdit, WishlistItem:
		return true
	}
	return false
}

// Metered reports whether recording t consumes a metered interaction.
func (t ModificationType) Metered() bool {
	return t == StyleSwap || t == FloorPlanEdit
}

// Session is one visit to a plan-detail surface for one builder.
type Session struct {
	ID               string         `json:"id"`
	AnonymousID      string         `json:"anonymous_id"`
	BuilderSlug      string         `json:"builder_slug"`
	PlanID           string         `json:"plan_id"`
	InteractionCount int            `json:"interaction_count"`
	IsCaptured       bool           `json:"is_captured"`
	ContactID        string         `json:"contact_id,omitempty"`
	CapturedAt       *time.Time     `json:"captured_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Modifications    []Modification `json:"modifications"`
}

// Modification is an append-only record of a generation or wishlist entry.
type Modification struct {
	ID          int64            `json:"id,omitempty"`
	SessionID   string           `json:"session_id"`
	Type        ModificationType `json:"type"`
	Prompt      string           `json:"prompt,omitempty"`
	StylePreset string           `json:"style_preset,omitempty"`
	ResultURL   string           `json:"result_url"`
	OriginalURL string           `json:"original_url"`
	Timestamp   time.Time        `json:"timestamp"`
}

// NewSession carries the fields needed to open a session.
type NewSession struct {
	PlanID      string `json:"plan_id"`
	BuilderSlug string `json:"builder_slug"`
	AnonymousID string `json:"anonymous_id"`
}

// Contact holds the details a visitor submitted at capture time.
type Contact struct {
	ID          string    `json:"id"`
	AnonymousID string    `json:"anonymous_id"`
	BuilderSlug string    `json:"builder_slug"`
	SessionID   string    `json:"session_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	CreatedAt   time.Time `json:"created_at"`
}
