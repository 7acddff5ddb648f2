package model

import (
	"fmt"
)

// Reserved payload keys. These are always written by the store layer; a
// caller-supplied Extra map must not shadow them.
const (
	KeyText           = "text"
	KeyRole           = "role"
	KeyConversationID = "conversation_id"
	KeyTimestamp      = "ts"
)

// ReservedKeys lists the payload keys owned by the memory record itself.
var ReservedKeys = []string{KeyText, KeyRole, KeyConversationID, KeyTimestamp}

// RoleUnknown is the sentinel projected when a stored payload carries no role.
const RoleUnknown = "unknown"

// Memory is one stored text + vector + metadata record.
type Memory struct {
	ID             string         `json:"id,omitempty"`
	Text           string         `json:"text"`
	Role           string         `json:"role"`
	ConversationID string         `json:"conversation_id"`
	Timestamp      int64          `json:"timestamp,omitempty"`
	Vector         []float32      `json:"vector,omitempty"`
	Extra          map[string]any `json:"extra_payload,omitempty"`
}

// Validate checks the fields a caller must supply before any network call is
// made. The vector and ID are assigned later in the write path and are not
// checked here.
func (m Memory) Validate() error {
	if m.Text == "" {
		return fmt.Errorf("%w: text is empty", ErrValidation)
	}
	if m.ConversationID == "" {
		return fmt.Errorf("%w: conversation_id is empty", ErrValidation)
	}
	for _, key := range ReservedKeys {
		if _, ok := m.Extra[key]; ok {
			return fmt.Errorf("%w: extra_payload overrides reserved key %q", ErrValidation, key)
		}
	}
	return nil
}

// Payload merges Extra with the reserved fields. Reserved keys win over
// Extra entries so a stored point can always be projected back into a Hit.
func (m Memory) Payload() map[string]any {
	payload := make(map[string]any, len(m.Extra)+len(ReservedKeys))
	for k, v := range m.Extra {
		payload[k] = v
	}
	payload[KeyText] = m.Text
	payload[KeyRole] = m.Role
	payload[KeyConversationID] = m.ConversationID
	payload[KeyTimestamp] = m.Timestamp
	return payload
}

// Hit is one ranked retrieval result projected from a stored payload.
type Hit struct {
	Text      string  `json:"text"`
	Role      string  `json:"role"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Score     float64 `json:"score"`
}

// HitFromPayload projects a raw stored payload into a Hit. Payload shape is
// not schema-enforced, so missing fields fall back to sentinels: role becomes
// "unknown" and the timestamp stays zero.
func HitFromPayload(payload map[string]any, score float64) Hit {
	hit := Hit{
		Text:  StringFromAny(payload[KeyText]),
		Role:  StringFromAny(payload[KeyRole]),
		Score: score,
	}
	if hit.Role == "" {
		hit.Role = RoleUnknown
	}
	hit.Timestamp = Int64FromAny(payload[KeyTimestamp])
	return hit
}

// StringFromAny converts a decoded JSON value to a string, or "" if it is not one.
func StringFromAny(v any) string {
	s, _ := v.(string)
	return s
}

// Int64FromAny converts a decoded JSON number to int64. JSON decoding yields
// float64 for numbers, so both forms are accepted.
func Int64FromAny(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
