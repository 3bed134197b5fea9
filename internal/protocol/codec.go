package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrEmptyFrame is returned for zero-length frames.
	ErrEmptyFrame = errors.New("frame empty")
	// ErrMissingEvent is returned when a frame carries no event name.
	ErrMissingEvent = errors.New("event name missing")
	// ErrMissingPayload is returned when an event requires data and none was sent.
	ErrMissingPayload = errors.New("payload missing")
)

var validate = validator.New()

// Encode renders an envelope as a single text frame.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses one text frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if len(frame) == 0 {
		return env, ErrEmptyFrame
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("decode frame: %w", err)
	}
	env.Event = EventName(strings.TrimSpace(string(env.Event)))
	if env.Event == "" {
		return env, ErrMissingEvent
	}
	return env, nil
}

// DecodeData unmarshals and validates the payload of an envelope.
func DecodeData[T any](env Envelope) (T, error) {
	var out T
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return out, ErrMissingPayload
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	if err := Validate(out); err != nil {
		return out, fmt.Errorf("invalid %s payload: %w", env.Event, err)
	}
	return out, nil
}

// Validate applies struct tag validation to v.
func Validate(v any) error {
	return validate.Struct(v)
}
