// Package protocol defines the event names, payloads and framing exchanged
// between relay clients and the server.
//
// Every frame is a JSON object {"event": <name>, "data": <payload>}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names.
const (
	EventInit               = "init"
	EventSceneState         = "scene-state"
	EventPlayerJoined       = "player:joined"
	EventPlayerLeft         = "player:left"
	EventClientUpdatePlayer = "client-update-player"
	EventJoinScene          = "join-scene"
	EventSendMessage        = "send-message"
	EventTriggerEmote       = "trigger-emote"
	EventFart               = "fart"
	EventFailed             = "failed"
)

// Handshake query parameter names.
const (
	QueryUsername         = "username"
	QueryModelID          = "modelId"
	QuerySelectedAvatarID = "selectedAvatarId"
	QuerySceneKey         = "sceneKey"
)

// ErrMissingEvent is returned when a frame carries no event name.
var ErrMissingEvent = errors.New("frame has no event name")

// Envelope is one decoded frame. Data is kept raw so relays can forward it
// untouched.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode frames payload under event.
//
// Postcondition: Returns the JSON frame or a marshal error.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return EncodeRaw(event, data)
}

// EncodeRaw frames an already-encoded payload under event.
func EncodeRaw(event string, data json.RawMessage) ([]byte, error) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", event, err)
	}
	return frame, nil
}

// Decode parses a frame.
//
// Postcondition: Returns ErrMissingEvent for frames without an event name.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}
