package notify

import "context"

// AlertMessage describes a ledger alert.
type AlertMessage struct {
	CommunityID string            `json:"community_id"`
	Period      uint64            `json:"period"`
	Summary     string            `json:"summary"`
	Net         string            `json:"net,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// Notifier sends alerts.
type Notifier interface {
	Notify(ctx context.Context, msg AlertMessage) error
}
