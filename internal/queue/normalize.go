package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawSnapshot mirrors the wire payload. The activity flag arrives under
// either "active" or "isActive" depending on which backend path serialized
// it; normalization is the single place that resolves the drift.
type RawSnapshot struct {
	ID                      string  `json:"id"`
	ServiceName             string  `json:"serviceName"`
	PlaceID                 string  `json:"placeId"`
	ProviderID              string  `json:"providerId"`
	Active                  *bool   `json:"active"`
	IsActive                *bool   `json:"isActive"`
	SupportsGroupToken      bool    `json:"supportsGroupToken"`
	EmergencySupport        bool    `json:"emergencySupport"`
	EmergencyPriorityWeight int     `json:"emergencyPriorityWeight"`
	MaxCapacity             *int    `json:"maxCapacity"`
	EstimatedWaitTime       int     `json:"estimatedWaitTime"`
	TokenCounter            int     `json:"tokenCounter"`
	Tokens                  []Token `json:"tokens"`
}

// Normalize converts a raw snapshot into the canonical Queue. It is a pure
// function: field-name drift is resolved ("active" wins when both are
// present) and structurally required fields get safe defaults instead of
// failing. A nil snapshot yields nil.
func Normalize(raw *RawSnapshot) *Queue {
	if raw == nil {
		return nil
	}

	isActive := raw.IsActive
	if raw.Active != nil {
		isActive = raw.Active
	}

	tokens := raw.Tokens
	if tokens == nil {
		tokens = []Token{}
	}

	return &Queue{
		ID:                      raw.ID,
		ServiceName:             raw.ServiceName,
		PlaceID:                 raw.PlaceID,
		ProviderID:              raw.ProviderID,
		IsActive:                isActive,
		SupportsGroupToken:      raw.SupportsGroupToken,
		EmergencySupport:        raw.EmergencySupport,
		EmergencyPriorityWeight: raw.EmergencyPriorityWeight,
		MaxCapacity:             raw.MaxCapacity,
		EstimatedWaitTime:       raw.EstimatedWaitTime,
		TokenCounter:            raw.TokenCounter,
		Tokens:                  tokens,
	}
}

// Decode parses a JSON snapshot body and normalizes it.
func Decode(data []byte) (*Queue, error) {
	var raw RawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding queue snapshot: %w", err)
	}
	return Normalize(&raw), nil
}

// DecodeList parses a JSON array of snapshots, normalizing each element.
func DecodeList(data []byte) ([]*Queue, error) {
	var raws []RawSnapshot
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decoding queue list: %w", err)
	}
	queues := make([]*Queue, 0, len(raws))
	for i := range raws {
		queues = append(queues, Normalize(&raws[i]))
	}
	return queues, nil
}

// DecodeToken parses a single token payload, as returned by the add-token
// family of endpoints.
func DecodeToken(data []byte) (*Token, error) {
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return &t, nil
}

// Timestamp formats a token time for display, tolerating nil.
func Timestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
