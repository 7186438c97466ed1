package event

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// CaptureRequest is the name of the only application event carried on the bus.
const CaptureRequest = "capture_request"

var (
	// ErrMissingCorrelation is returned when a trigger carries no folder name.
	ErrMissingCorrelation = errors.New("event: trigger has no folder_name")
	// ErrUnknownEvent is returned when an envelope names an event we do not handle.
	ErrUnknownEvent = errors.New("event: unknown event")
)

// Trigger represents the payload of a capture_request event. FolderName is the
// correlation id of the capture session and is forwarded verbatim by every hop.
type Trigger struct {
	FolderName string `msgpack:"folder_name" json:"folder_name"`
	Message    string `msgpack:"message,omitempty" json:"message,omitempty"`
}

// Envelope is the structure that gets serialized to Msgpack and written as one
// binary frame on the bus.
type Envelope struct {
	Event string  `msgpack:"event"`
	Data  Trigger `msgpack:"data"`
}

// Validate reports whether the trigger can start a capture.
func (t Trigger) Validate() error {
	if t.FolderName == "" {
		return ErrMissingCorrelation
	}
	return nil
}

// Encode wraps t in a capture_request envelope and serializes it.
func Encode(t Trigger) ([]byte, error) {
	b, err := msgpack.Marshal(&Envelope{Event: CaptureRequest, Data: t})
	if err != nil {
		return nil, fmt.Errorf("event: encode: %w", err)
	}
	return b, nil
}

// Decode parses one bus frame and returns the trigger it carries.
func Decode(b []byte) (Trigger, error) {
	var env Envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return Trigger{}, fmt.Errorf("event: decode: %w", err)
	}
	if env.Event != CaptureRequest {
		return Trigger{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return env.Data, nil
}
