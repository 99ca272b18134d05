package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSON is a free-form jsonb column. The ledger uses it to keep the raw
// charging-system answers of each step.
type JSON map[string]interface{}

// NewJSON copies m into a JSON value.
func NewJSON(m map[string]interface{}) JSON {
	out := make(JSON, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// With returns j with key set, allocating when j is nil.
func (j JSON) With(key string, value interface{}) JSON {
	if j == nil {
		j = JSON{}
	}
	j[key] = value
	return j
}

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]interface{}(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (j *JSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*map[string]interface{})(j))
	case string:
		return json.Unmarshal([]byte(v), (*map[string]interface{})(j))
	default:
		return errors.New("unsupported jsonb source type")
	}
}
