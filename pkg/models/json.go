package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a map[string]interface{} that implements sql.Scanner and
// driver.Valuer, stored in a JSONB column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONMap
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONMap
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*map[string]interface{})(m))
	case string:
		return json.Unmarshal([]byte(v), (*map[string]interface{})(m))
	default:
		return fmt.Errorf("unsupported type %T for JSONMap", value)
	}
}

// JSONValue holds an arbitrary structured value (object, array, string,
// number, bool) stored in a JSONB column. Payloads are opaque to the core:
// they are parsed at the boundary and passed through untouched.
type JSONValue struct {
	V any
}

// IsZero reports whether the value is unset
func (j JSONValue) IsZero() bool { return j.V == nil }

// Value implements driver.Valuer for JSONValue
func (j JSONValue) Value() (driver.Value, error) {
	if j.V == nil {
		return nil, nil
	}
	return json.Marshal(j.V)
}

// Scan implements sql.Scanner for JSONValue
func (j *JSONValue) Scan(value interface{}) error {
	if value == nil {
		j.V = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, &j.V)
	case string:
		return json.Unmarshal([]byte(v), &j.V)
	default:
		return fmt.Errorf("unsupported type %T for JSONValue", value)
	}
}

// MarshalJSON implements json.Marshaler
func (j JSONValue) MarshalJSON() ([]byte, error) {
	if j.V == nil {
		return []byte("null"), nil
	}
	return json.Marshal(j.V)
}

// UnmarshalJSON implements json.Unmarshaler
func (j *JSONValue) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &j.V)
}
