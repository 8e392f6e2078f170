package restclient

import (
	"bytes"
	"encoding/json"
)

// List decodes the backend's two collection shapes: a bare JSON array or a
// paginated envelope with a "results" key.
type List[T any] struct {
	Items []T
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *List[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &l.Items)
	}
	var envelope struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	l.Items = envelope.Results
	return nil
}
