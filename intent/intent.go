package intent

import (
	"time"

	"github.com/xraph/courier/id"
)

// State is the lifecycle state of an intent. It is derived from the
// claimed-at and processed-at timestamps rather than stored.
type State string

const (
	// StatePending means the intent waits to be claimed by a worker.
	StatePending State = "pending"
	// StateClaimed means a worker holds the intent but has not finished it.
	StateClaimed State = "claimed"
	// StateProcessed means delivery was attempted. No further writes.
	StateProcessed State = "processed"
)

// Intent is a unit of notification work addressed to one user.
type Intent struct {
	ID          id.IntentID    `json:"id"`
	TenantID    string         `json:"tenant_id"`
	UserID      string         `json:"user_id"`
	EventType   string         `json:"event_type"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

// New returns a pending intent with a fresh ID and creation time.
func New(tenantID, userID, eventType, title, body string, data map[string]any) *Intent {
	return &Intent{
		ID:        id.NewIntentID(),
		TenantID:  tenantID,
		UserID:    userID,
		EventType: eventType,
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// State derives the lifecycle state from the timestamps.
func (in *Intent) State() State {
	switch {
	case in.ProcessedAt != nil:
		return StateProcessed
	case in.ClaimedAt != nil:
		return StateClaimed
	default:
		return StatePending
	}
}

// Clone returns a deep copy of the intent. Data values are copied
// shallowly.
func (in *Intent) Clone() *Intent {
	cp := *in
	if in.Data != nil {
		cp.Data = make(map[string]any, len(in.Data))
		for k, v := range in.Data {
			cp.Data[k] = v
		}
	}
	if in.ClaimedAt != nil {
		t := *in.ClaimedAt
		cp.ClaimedAt = &t
	}
	if in.ProcessedAt != nil {
		t := *in.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}
