package domain

import "time"

// Recipient is a registered human (or chat room) notification target.
type Recipient struct {
	ID          string      `json:"id"`
	OrgID       string      `json:"org_id"`
	Channel     Channel     `json:"channel"`
	Address     string      `json:"address"`
	Preferences Preferences `json:"preferences"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelWebhook Channel = "webhook"
	ChannelChat    Channel = "chat"
)

// Preferences gate which notifications a recipient receives. Evaluated once
// per candidate recipient before enqueue, never after.
type Preferences struct {
	MinPriority Priority `json:"min_priority,omitempty"`
	Types       []string `json:"types,omitempty"`
	// Quiet hours in the recipient's configured offset, [Start, End) on a
	// 24h clock. Start == End disables quiet hours.
	QuietStart int `json:"quiet_start_hour,omitempty"`
	QuietEnd   int `json:"quiet_end_hour,omitempty"`
	// MaxPerHour caps notifications of the same type; 0 = uncapped.
	MaxPerHour int `json:"max_per_hour,omitempty"`
}

// InQuietHours reports whether t falls inside the quiet window.
func (p Preferences) InQuietHours(t time.Time) bool {
	if p.QuietStart == p.QuietEnd {
		return false
	}
	h := t.UTC().Hour()
	if p.QuietStart < p.QuietEnd {
		return h >= p.QuietStart && h < p.QuietEnd
	}
	// Window wraps midnight, e.g. 22 -> 6.
	return h >= p.QuietStart || h < p.QuietEnd
}
