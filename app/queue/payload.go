package queue

import (
	"encoding/json"
	"fmt"
)

// DeliveryPayload is the application-level content of a queue message.
// The wire format keeps the legacy JSON field names.
type DeliveryPayload struct {
	Destination string `json:"email"`
	Body        string `json:"msg"`
}

// DecodeError marks a message body that cannot yield a valid payload.
// Such messages are poison: retrying them can never succeed.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode payload: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode payload: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodePayload serializes a payload for enqueueing.
func EncodePayload(p DeliveryPayload) ([]byte, error) {
	if p.Destination == "" {
		return nil, fmt.Errorf("encode payload: destination is required")
	}
	if p.Body == "" {
		return nil, fmt.Errorf("encode payload: body is required")
	}
	return json.Marshal(p)
}

// DecodePayload parses queue message content. Unknown JSON fields are
// ignored; a missing or empty destination/body is a decode failure, never
// a partial payload.
func DecodePayload(content []byte) (DeliveryPayload, error) {
	var p DeliveryPayload
	if err := json.Unmarshal(content, &p); err != nil {
		return DeliveryPayload{}, &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if p.Destination == "" {
		return DeliveryPayload{}, &DecodeError{Reason: "missing destination"}
	}
	if p.Body == "" {
		return DeliveryPayload{}, &DecodeError{Reason: "missing body"}
	}
	return p, nil
}
