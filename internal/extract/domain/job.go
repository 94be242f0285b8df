package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobRecord is the cache entry tracking one extraction task
type JobRecord struct {
	Key       string    `json:"key"`
	State     string    `json:"state"`
	TrackID   string    `json:"track_id"`
	Timestamp time.Time `json:"timestamp"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	ImageType string    `json:"image_type,omitempty"`
	Firmware  string    `json:"firmware,omitempty"`
	URL       string    `json:"url,omitempty"`
}

// CacheKey builds the key identifying one extraction task
func CacheKey(imageKind, firmware string) string {
	return imageKind + ":" + firmware
}

// AssetName is the file name the workflow publishes for a finished extraction
func AssetName(imageKind, firmware string) string {
	return imageKind + "_" + firmware + ".zip"
}

// IsTerminal reports whether the record is done or failed
func (r *JobRecord) IsTerminal() bool {
	return r.State == StateDone || r.State == StateFailed
}

// Age returns how long ago the record was created. Records without a
// timestamp report zero.
func (r *JobRecord) Age(now time.Time) time.Duration {
	if r.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(r.Timestamp)
}

// Encode serializes the record for storage
func (r *JobRecord) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode job record: %w", err)
	}
	return string(data), nil
}

// DecodeJobRecord parses a stored value. A value that is not a JSON object is
// a bare track id written by older deployments and decodes as processing.
func DecodeJobRecord(key, value string) (*JobRecord, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty job record for %s", key)
	}

	if !strings.HasPrefix(value, "{") {
		return &JobRecord{Key: key, State: StateProcessing, TrackID: value}, nil
	}

	var record JobRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, fmt.Errorf("failed to decode job record: %w", err)
	}

	switch record.State {
	case StateProcessing, StateDone, StateFailed:
	default:
		return nil, fmt.Errorf("unknown job state %q", record.State)
	}

	if record.Key == "" {
		record.Key = key
	}
	return &record, nil
}
