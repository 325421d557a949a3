package history

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONAny persists an arbitrary JSON-like tree in a json column.
type JSONAny struct {
	V any
}

func (j JSONAny) Value() (driver.Value, error) {
	if j.V == nil {
		return nil, nil
	}
	return json.Marshal(j.V)
}

func (j JSONAny) MarshalJSON() ([]byte, error) {
	if j.V == nil {
		return []byte("null"), nil
	}
	return json.Marshal(j.V)
}

func (j *JSONAny) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &j.V)
}

func (j *JSONAny) Scan(value any) error {
	if value == nil {
		j.V = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONAny", value)
	}

	return json.Unmarshal(bytes, &j.V)
}

// Analysis is one persisted provider outcome. Rows produced by a comparison
// share a ComparisonID; single dispatches leave it empty.
type Analysis struct {
	ID           string `gorm:"primaryKey" json:"id"`
	SessionID    string `gorm:"index" json:"session_id,omitempty"`
	ComparisonID string `gorm:"index" json:"comparison_id,omitempty"`

	Provider         string   `gorm:"not null" json:"provider"`
	Op               string   `gorm:"not null" json:"op"`
	Response         string   `json:"response,omitempty"`
	StructuredData   JSONAny  `gorm:"type:json" json:"structured_data,omitempty"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Confidence       *float64 `json:"confidence,omitempty"`
	Error            string   `json:"error,omitempty"`

	// Opaque trigger signal snapshot, stored as supplied by the shell.
	PersonCount     int     `json:"person_count"`
	CrowdDensity    float64 `json:"crowd_density"`
	MotionIntensity float64 `json:"motion_intensity"`

	CreatedAt time.Time `json:"created_at"`
}

// Comparison is the persisted wrapper row for an N-way dispatch.
type Comparison struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	SessionID   string    `gorm:"index" json:"session_id,omitempty"`
	TotalTimeMs int64     `json:"total_time_ms"`
	CreatedAt   time.Time `json:"created_at"`
}
