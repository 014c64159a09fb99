// Package job models remote jobs and drives them to completion by polling.
package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	xerrors "BReact-SDK/pkg/errors"
)

// Status is the lifecycle state of a remote job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Known reports whether s is one of the four canonical states.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseStatus normalises the status strings the platform is known to send.
// Unrecognised values are returned lower-cased and are not terminal.
func ParseStatus(raw string) Status {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case "pending", "queued", "submitted", "accepted":
		return StatusPending
	case "running", "processing", "in_progress", "started":
		return StatusRunning
	case "completed", "complete", "success", "succeeded", "done":
		return StatusCompleted
	case "failed", "failure", "error", "errored":
		return StatusFailed
	default:
		return Status(s)
	}
}

// Handle identifies one submitted job. The access token is scoped to the
// process and required on every status query.
type Handle struct {
	ProcessID   string `json:"process_id"`
	AccessToken string `json:"access_token"`
}

// UnmarshalJSON accepts a numeric process_id and stores its decimal form.
func (h *Handle) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProcessID   json.RawMessage `json:"process_id"`
		AccessToken string          `json:"access_token"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := decodeProcessID(raw.ProcessID)
	if err != nil {
		return err
	}
	h.ProcessID = id
	h.AccessToken = raw.AccessToken
	return nil
}

func decodeProcessID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("process_id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}

// Validate checks that both parts of the handle are present.
func (h Handle) Validate() error {
	if strings.TrimSpace(h.ProcessID) == "" {
		return xerrors.New(xerrors.CodeDecode, "submission response has no process_id")
	}
	if strings.TrimSpace(h.AccessToken) == "" {
		return xerrors.New(xerrors.CodeDecode, "submission response has no access_token")
	}
	return nil
}

// Report is one observation of a job's status.
type Report struct {
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	Service   string          `json:"service,omitempty"`
	Endpoint  string          `json:"endpoint,omitempty"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

// UnmarshalJSON normalises the status and tolerates a structured error
// field.
func (r *Report) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status    string          `json:"status"`
		Result    json.RawMessage `json:"result"`
		Error     json.RawMessage `json:"error"`
		Message   string          `json:"message"`
		Service   string          `json:"service"`
		Endpoint  string          `json:"endpoint"`
		CreatedAt *time.Time      `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Report{
		Status:    ParseStatus(raw.Status),
		Error:     errorText(raw.Error),
		Message:   raw.Message,
		Service:   raw.Service,
		Endpoint:  raw.Endpoint,
		CreatedAt: raw.CreatedAt,
	}
	if res := bytes.TrimSpace(raw.Result); len(res) > 0 && !bytes.Equal(res, []byte("null")) {
		r.Result = append(json.RawMessage(nil), res...)
	}
	return nil
}

func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// FailureMessage returns the most specific message for a failed report.
func (r Report) FailureMessage() string {
	switch {
	case r.Error != "":
		return r.Error
	case r.Message != "":
		return r.Message
	default:
		return "unknown error"
	}
}

// Err converts a failed report into a ServiceExecution error carrying the
// remote message verbatim. It returns nil for any other status.
func (r Report) Err(h Handle) error {
	if r.Status != StatusFailed {
		return nil
	}
	return xerrors.New(xerrors.CodeServiceExecution, r.FailureMessage(),
		xerrors.WithMetadata("process_id", h.ProcessID))
}

// Result is the payload of a completed job, unchanged from the wire.
type Result struct {
	Handle Handle          `json:"handle"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Map decodes the payload as a JSON object.
func (r Result) Map() (map[string]any, error) {
	out := map[string]any{}
	if len(r.Data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Data, &out); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecode, err, "result is not a JSON object")
	}
	return out, nil
}

// Decode unmarshals the payload into out.
func (r Result) Decode(out any) error {
	if len(r.Data) == 0 {
		return xerrors.New(xerrors.CodeDecode, "job completed without a result payload")
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeDecode, err, "decode job result")
	}
	return nil
}
