package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// JSON is a map-backed JSON object column implementing driver.Valuer
// and sql.Scanner. Used for audit detail maps so one column type works
// with both PostgreSQL JSONB and SQLite JSON columns, and callers can
// index details directly without decoding.
type JSON map[string]interface{}

// Value implements driver.Valuer for database writes.
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]interface{}(j))
	if err != nil {
		return nil, fmt.Errorf("error encoding JSON column: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner for database reads.
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to unmarshal JSON value: unsupported type")
	}

	if len(bytes) == 0 || string(bytes) == "null" {
		*j = nil
		return nil
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return fmt.Errorf("invalid JSON in database: %w", err)
	}
	*j = JSON(m)
	return nil
}

// TagSet is a JSON string-array column for document tags, stored as
// `["a","b"]` so tag filters can match on the quoted form.
type TagSet []string

// Value implements driver.Valuer for database writes.
func (t TagSet) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(t))
	if err != nil {
		return nil, fmt.Errorf("error encoding tag column: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner for database reads.
func (t *TagSet) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to unmarshal tag value: unsupported type")
	}

	if len(bytes) == 0 || string(bytes) == "null" {
		*t = nil
		return nil
	}

	var tags []string
	if err := json.Unmarshal(bytes, &tags); err != nil {
		return fmt.Errorf("invalid tag list in database: %w", err)
	}
	*t = tags
	return nil
}
