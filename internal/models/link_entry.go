package models

import (
	"encoding/json"
	"fmt"
)

// LinkEntry serialises as a two element JSON array: [id, link].
type LinkEntry struct {
	ID   string
	Link AffiliateLink
}

// MarshalJSON implements json.Marshaler.
func (e LinkEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.ID, e.Link})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *LinkEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("link entry: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.ID); err != nil {
		return fmt.Errorf("link entry id: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Link); err != nil {
		return fmt.Errorf("link entry body: %w", err)
	}
	return nil
}
