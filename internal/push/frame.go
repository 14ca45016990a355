// Package push implements the persistent push transport: frame decoding,
// the websocket dialer, and close-code classification.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/assetdash/internal/model"
)

// FrameType is the change carried by a push frame.
type FrameType string

const (
	FrameNew      FrameType = "new"
	FrameUpdated  FrameType = "updated"
	FrameDeleted  FrameType = "deleted"
	FrameRead     FrameType = "read"
	FrameArchived FrameType = "archived"
)

// Valid reports whether t is a frame type the engine understands.
func (t FrameType) Valid() bool {
	switch t {
	case FrameNew, FrameUpdated, FrameDeleted, FrameRead, FrameArchived:
		return true
	}
	return false
}

// Frame is one server-initiated change event.
type Frame struct {
	Type         FrameType          `json:"type"`
	Notification model.Notification `json:"notification"`
	Timestamp    time.Time          `json:"timestamp"`
}

// ErrMalformedFrame wraps every decoding failure.
var ErrMalformedFrame = errors.New("malformed push frame")

// Decode parses a JSON frame. Unknown types and frames without a
// notification id are rejected.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !f.Type.Valid() {
		return Frame{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
	if f.Notification.ID == "" {
		return Frame{}, fmt.Errorf("%w: missing notification id", ErrMalformedFrame)
	}
	return f, nil
}

// Encode renders f as JSON.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Type, err)
	}
	return data, nil
}
