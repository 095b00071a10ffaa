package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type requestPayload struct {
	ID         string          `json:"id"`
	Command    string          `json:"command"`
	MaxRetries *json.Number    `json:"max_retries"`
	RunAt      json.RawMessage `json:"run_at"`
}

// ParseRequest decodes a JSON job submission such as
// {"id":"job1","command":"echo hi","max_retries":2,"run_at":"2025-01-01T00:00:00Z"}.
// run_at may be a string or a number of epoch seconds.
func ParseRequest(data []byte) (Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload requestPayload
	if err := dec.Decode(&payload); err != nil {
		return Request{}, fmt.Errorf("%w: decode job json: %v", ErrInvalidJob, err)
	}

	req := Request{ID: payload.ID, Command: payload.Command}

	if payload.MaxRetries != nil {
		n, err := payload.MaxRetries.Int64()
		if err != nil || n < 0 || n > math.MaxInt32 {
			return Request{}, fmt.Errorf("%w: max_retries must be a non-negative integer, got %s", ErrInvalidJob, payload.MaxRetries.String())
		}
		value := int(n)
		req.MaxRetries = &value
	}

	raw := bytes.TrimSpace(payload.RunAt)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		if strings.TrimSpace(s) == "" {
			return Request{}, fmt.Errorf("%w: run_at is empty", ErrInvalidSchedule)
		}
		req.RunAt = s
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return Request{}, fmt.Errorf("%w: run_at must be a string or number: %s", ErrInvalidSchedule, string(raw))
		}
		req.RunAt = n.String()
	}
	return req, nil
}
