// Package codec converts between the hand firmware's wire payloads and typed values.
//
// Commands travel as plain UTF-8 tokens written with response. Telemetry arrives
// as a JSON object carrying roll/pitch/yaw in degrees:
//
//	{"rpy":{"pitch":-12.5,"roll":3.0,"yaw":178.25}}
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/srg/handlink/internal/device"
)

// GATT identifiers of the hand. One characteristic carries both directions.
const (
	ServiceUUID        = "b2bbc642-46da-11ed-b878-0242ac120002"
	CharacteristicUUID = "c9af9c76-46de-11ed-b878-0242ac120002"
)

// Command is one of the tokens understood by the firmware.
type Command string

const (
	CommandUp     Command = "up"
	CommandDown   Command = "down"
	CommandToggle Command = "toggle"
)

// Commands lists the closed command alphabet.
var Commands = []Command{CommandUp, CommandDown, CommandToggle}

// Valid reports whether c belongs to the command alphabet.
func (c Command) Valid() bool {
	switch c {
	case CommandUp, CommandDown, CommandToggle:
		return true
	}
	return false
}

func (c Command) String() string { return string(c) }

// ParseCommand validates free-form input (e.g. typed by a user).
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown command %q (must be up, down or toggle)", s)
	}
	return c, nil
}

// EncodeCommand returns the wire bytes for c.
// Encoding a token outside the alphabet is a programming error and panics.
func EncodeCommand(c Command) []byte {
	if !c.Valid() {
		panic(fmt.Sprintf("codec: encode of unknown command %q", string(c)))
	}
	return []byte(c)
}

// DecodeCommand is the inverse of EncodeCommand.
func DecodeCommand(b []byte) (Command, error) {
	c := Command(b)
	if !c.Valid() {
		return "", fmt.Errorf("unknown command bytes %q", b)
	}
	return c, nil
}

// Telemetry is one decoded orientation sample, in degrees.
type Telemetry struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
}

const rpyKey = "rpy"

// DecodeTelemetry parses a notification payload. Any syntax error, missing
// rpy field or non-numeric angle fails with device.ErrMalformedPayload and a
// zero Telemetry; a partially parsed record is never returned.
func DecodeTelemetry(b []byte) (Telemetry, error) {
	data := bytes.TrimSpace(b)
	if len(data) == 0 {
		return Telemetry{}, malformed(nil, "empty payload")
	}

	_, typ, end, err := jsonparser.Get(data)
	if err != nil {
		return Telemetry{}, malformed(err, "invalid JSON")
	}
	if typ != jsonparser.Object {
		return Telemetry{}, malformed(nil, "payload is %s, want object", typ)
	}
	if rest := bytes.TrimSpace(data[end:]); len(rest) > 0 {
		return Telemetry{}, malformed(nil, "trailing data after object")
	}
	// Walk the whole object so broken members anywhere are rejected.
	if err := jsonparser.ObjectEach(data, func([]byte, []byte, jsonparser.ValueType, int) error { return nil }); err != nil {
		return Telemetry{}, malformed(err, "invalid JSON")
	}

	rpy, typ, _, err := jsonparser.Get(data, rpyKey)
	if err != nil {
		return Telemetry{}, malformed(err, "missing %q", rpyKey)
	}
	if typ != jsonparser.Object {
		return Telemetry{}, malformed(nil, "%q is %s, want object", rpyKey, typ)
	}

	var t Telemetry
	fields := []struct {
		key string
		dst *float64
	}{
		{"pitch", &t.Pitch},
		{"roll", &t.Roll},
		{"yaw", &t.Yaw},
	}
	for _, f := range fields {
		raw, typ, _, err := jsonparser.Get(rpy, f.key)
		if err != nil {
			return Telemetry{}, malformed(err, "missing %s.%s", rpyKey, f.key)
		}
		if typ != jsonparser.Number {
			return Telemetry{}, malformed(nil, "%s.%s is %s, want number", rpyKey, f.key, typ)
		}
		v, err := jsonparser.ParseFloat(raw)
		if err != nil {
			return Telemetry{}, malformed(err, "%s.%s", rpyKey, f.key)
		}
		*f.dst = v
	}
	return t, nil
}

// EncodeTelemetry produces the firmware payload for t.
func EncodeTelemetry(t Telemetry) []byte {
	b, err := json.Marshal(struct {
		RPY Telemetry `json:"rpy"`
	}{t})
	if err != nil {
		// Only non-finite floats can fail here.
		panic(fmt.Sprintf("codec: encode telemetry: %v", err))
	}
	return b
}

func malformed(cause error, format string, args ...any) error {
	return device.Fail(device.MalformedPayload, cause, format, args...)
}
