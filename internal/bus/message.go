package bus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// SourceWorker is the source field of every event emitted by a worker.
const SourceWorker = "worker"

// commandKey is the wire field that names the command.
const commandKey = "command"

// Command is an instruction addressed to one worker.
//
// On the wire a command is a flat object: {"command": name, ...params}.
// A nested "params" object is also accepted and merged, with top-level
// fields taking precedence.
type Command struct {
	Name   string
	Params map[string]any
}

// NewCommand builds a command. params may be nil.
func NewCommand(name string, params map[string]any) Command {
	if params == nil {
		params = map[string]any{}
	}
	return Command{Name: name, Params: params}
}

// wire flattens c into its map form.
func (c Command) wire() map[string]any {
	m := make(map[string]any, len(c.Params)+1)
	maps.Copy(m, c.Params)
	m[commandKey] = c.Name
	return m
}

// fromWire populates c from the flat map form.
func (c *Command) fromWire(m map[string]any) error {
	name, ok := m[commandKey].(string)
	if !ok || name == "" {
		return errors.New("bus: command message has no \"command\" field")
	}
	params := make(map[string]any, len(m))
	if nested, ok := m["params"].(map[string]any); ok {
		maps.Copy(params, nested)
		delete(m, "params")
	}
	for k, v := range m {
		if k == commandKey {
			continue
		}
		params[k] = v
	}
	c.Name = name
	c.Params = params
	return nil
}

// MarshalJSON implements [json.Marshaler].
func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.wire())
}

// UnmarshalJSON implements [json.Unmarshaler]. Numbers are decoded as int64
// when integral and float64 otherwise.
func (c *Command) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("bus: decode command: %w", err)
	}
	normalizeNumbers(m)
	return c.fromWire(m)
}

// MarshalCBOR implements cbor.Marshaler.
func (c Command) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(c.wire())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (c *Command) UnmarshalCBOR(data []byte) error {
	var m map[string]any
	if err := decMode.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("bus: decode command: %w", err)
	}
	return c.fromWire(m)
}

// Event is a notification emitted by a worker.
type Event struct {
	Source   string         `json:"source"`
	WorkerID string         `json:"worker_id"`
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
}

// NewEvent builds a worker event. payload may be nil.
func NewEvent(workerID, typ string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Source: SourceWorker, WorkerID: workerID, Type: typ, Payload: payload}
}

// AudioFrame is one 20 ms PCM frame captured from a speaker.
type AudioFrame struct {
	// UserID is the speaker's Discord snowflake, carried as a decimal
	// string rather than an integer.
	UserID string `json:"user_id"`
	PCM    []byte `json:"pcm"`
}

// normalizeNumbers replaces json.Number values in place, recursing into
// nested objects and arrays.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalizeNumbers(e)
		}
		return x
	default:
		return v
	}
}
