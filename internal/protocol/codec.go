package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode parses one inbound frame into its typed event.
// Frames that are not a JSON object fail with ErrMalformedFrame; objects whose
// type is not recognized fail with ErrUnknownEventType.
func Decode(frame []byte) (Inbound, error) {
	eventType, err := Peek(frame)
	if err != nil {
		return nil, err
	}

	var evt Inbound
	switch eventType {
	case TypeJoinSession:
		var e JoinSession
		if err := unmarshal(frame, &e); err != nil {
			return nil, err
		}
		if err := require("sessionId", e.SessionID, "participantId", e.ParticipantID,
			"participantName", e.ParticipantName, "role", string(e.Role)); err != nil {
			return nil, err
		}
		evt = e
	case TypeHumanMessage:
		var e HumanMessage
		if err := unmarshal(frame, &e); err != nil {
			return nil, err
		}
		if err := require("sessionId", e.SessionID, "content", e.Content); err != nil {
			return nil, err
		}
		evt = e
	case TypeAIResponse:
		var e AIResponse
		if err := unmarshal(frame, &e); err != nil {
			return nil, err
		}
		if err := require("sessionId", e.SessionID, "platform", e.Platform, "content", e.Content); err != nil {
			return nil, err
		}
		evt = e
	case TypeRichMedia:
		var e RichMedia
		if err := unmarshal(frame, &e); err != nil {
			return nil, err
		}
		if err := require("sessionId", e.SessionID, "mediaType", string(e.MediaType)); err != nil {
			return nil, err
		}
		if len(e.MediaData) == 0 || bytes.Equal(e.MediaData, []byte("null")) {
			return nil, fmt.Errorf("%w: mediaData", ErrMissingField)
		}
		if e.Metadata == nil {
			return nil, fmt.Errorf("%w: metadata", ErrMissingField)
		}
		evt = e
	case TypeParticipantStatus:
		var e ParticipantStatus
		if err := unmarshal(frame, &e); err != nil {
			return nil, err
		}
		if err := require("sessionId", e.SessionID, "status", string(e.Status)); err != nil {
			return nil, err
		}
		evt = e
	case TypeLeaveSession:
		var e LeaveSession
		if err := unmarshal(frame, &e); err != nil {
			return nil, err
		}
		if err := require("sessionId", e.SessionID); err != nil {
			return nil, err
		}
		evt = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	return evt, nil
}

// Peek returns the type discriminator of a frame without decoding the rest
func Peek(frame []byte) (string, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", fmt.Errorf("%w: expected a JSON object", ErrMalformedFrame)
	}

	var env struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var eventType string
	if len(env.Type) > 0 {
		if err := json.Unmarshal(env.Type, &eventType); err != nil {
			return "", fmt.Errorf("%w: type must be a string", ErrMalformedFrame)
		}
	}
	return eventType, nil
}

// Encode serializes an outbound event. The "type" key is always first and
// the remaining keys follow the struct field order, so output is stable.
func Encode(evt Outbound) ([]byte, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", evt.EventType(), err)
	}
	typeJSON, err := json.Marshal(evt.EventType())
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", evt.EventType(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(typeJSON) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typeJSON)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

func unmarshal(frame []byte, v interface{}) error {
	if err := json.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// require takes name/value pairs and fails on the first empty value
func require(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, pairs[i])
		}
	}
	return nil
}
