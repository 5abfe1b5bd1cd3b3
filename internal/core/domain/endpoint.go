package domain

import "time"

// Endpoint is a subscriber-registered webhook target. Read-only to the
// delivery path; mutated only through the registration API.
type Endpoint struct {
	ID         string            `json:"id"`
	OrgID      string            `json:"org_id"`
	URL        string            `json:"url"`
	AuthMethod AuthMethod        `json:"auth_method"`
	Secret     string            `json:"secret,omitempty"`
	Token      string            `json:"token,omitempty"`
	Username   string            `json:"username,omitempty"`
	Password   string            `json:"password,omitempty"`
	APIKeyName string            `json:"api_key_name,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Filter     EventFilter       `json:"filter"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type AuthMethod string

const (
	AuthNone   AuthMethod = "none"
	AuthHMAC   AuthMethod = "hmac_sha256"
	AuthBearer AuthMethod = "bearer"
	AuthBasic  AuthMethod = "basic"
	AuthAPIKey AuthMethod = "api_key"
	AuthCustom AuthMethod = "custom_headers"
)

// EventFilter selects which status-change events an endpoint or recipient
// receives. Empty slices match everything.
type EventFilter struct {
	EventTypes []string          `json:"event_types,omitempty"`
	Statuses   []Status          `json:"statuses,omitempty"`
	OrgIDs     []string          `json:"org_ids,omitempty"`
	Match      map[string]string `json:"match,omitempty"`
}

// Matches evaluates the filter against a status-change event.
func (f EventFilter) Matches(ev StatusEvent) bool {
	if len(f.EventTypes) > 0 && !containsString(f.EventTypes, ev.EventType) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == ev.NewStatus {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.OrgIDs) > 0 && !containsString(f.OrgIDs, ev.OrgID) {
		return false
	}
	for k, want := range f.Match {
		if got, ok := ev.Data[k]; !ok || got != want {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
