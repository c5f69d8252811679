package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the packet_type of an envelope.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindMessage  Kind = "message"
)

func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindMessage:
		return true
	}
	return false
}

// ErrMalformed is returned by Decode for frames that are not a usable envelope.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the wrapper around every frame exchanged with the controller.
// Payload stays raw until a handler casts it to the record declared for Name.
type Envelope struct {
	Name    string          `json:"packet_name"`
	Kind    Kind            `json:"packet_type"`
	Payload json.RawMessage `json:"packet_class"`
	ID      string          `json:"packet_id,omitempty"`
}

// New builds an envelope around a typed payload. A nil payload encodes as {}.
func New(name string, kind Kind, payload any) (Envelope, error) {
	env := Envelope{Name: name, Kind: kind}
	if payload == nil {
		env.Payload = json.RawMessage("{}")
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	env.Payload = b
	return env, nil
}

// Reply builds the response envelope for a request, echoing its correlation id.
func Reply(req Envelope, payload any) (Envelope, error) {
	env, err := New(req.Name, KindResponse, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.ID = req.ID
	return env, nil
}

// Encode serializes an envelope as one JSON object.
func Encode(env Envelope) ([]byte, error) {
	if env.Name == "" || !env.Kind.Valid() {
		return nil, fmt.Errorf("encode %q/%q: %w", env.Name, env.Kind, ErrMalformed)
	}
	if len(env.Payload) == 0 {
		env.Payload = json.RawMessage("{}")
	}
	return json.Marshal(env)
}

// Decode parses a received frame. Older controller builds send the envelope
// as a JSON string holding the object; both forms are accepted.
func Decode(data []byte) (Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Envelope{}, fmt.Errorf("empty frame: %w", ErrMalformed)
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		data = bytes.TrimSpace([]byte(inner))
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Name == "" {
		return Envelope{}, fmt.Errorf("missing packet_name: %w", ErrMalformed)
	}
	if !env.Kind.Valid() {
		return Envelope{}, fmt.Errorf("packet_type %q: %w", env.Kind, ErrMalformed)
	}
	return env, nil
}

// Unmarshal decodes the payload into v. A missing or null payload leaves v untouched.
func (e Envelope) Unmarshal(v any) error {
	p := bytes.TrimSpace(e.Payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(p, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Name, err)
	}
	return nil
}
