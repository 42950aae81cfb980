// Package cloudbuild talks to the remote build service: a websocket session
// that drives one build and an HTTP index of already-published artifacts.
package cloudbuild

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Frame event names.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventBuild        = "build"
	EventBuilding     = "building"
	EventBuilded      = "builded"
	EventPublished    = "published"
	EventErrorBuild   = "error_build"

	// EventStatus is the name given to status records, which the server
	// sends under the session id.
	EventStatus = "status"
)

// DefaultTimeout bounds how long Connect waits for the server's ack.
const DefaultTimeout = 5 * time.Second

// Request identifies what to build. The fields become query parameters of
// the websocket URL.
type Request struct {
	Name         string
	Version      string
	RemoteURL    string
	Branch       string
	BuildCommand string
}

// Frame is one JSON message on the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a progress notification delivered to Options.OnEvent.
type Event struct {
	Name    string
	Message string
	TaskID  string    // status records only
	Time    time.Time // status records only; zero when absent
}

type connectAck struct {
	ID string `json:"id"`
}

type statusRecord struct {
	TaskID    string          `json:"taskId"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// messageOf extracts a human-readable message from frame data, which is
// either a JSON string, an object with a message field, or absent.
func messageOf(data json.RawMessage) string {
	if len(data) == 0 || string(data) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(data, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(data)
}

// parseTimestamp accepts epoch milliseconds (number or numeric string) and
// RFC 3339 strings.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	text := strings.Trim(string(raw), `"`)
	if ms, err := strconv.ParseInt(text, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t
	}
	return time.Time{}
}
