package bus_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrWong99/starcommander/internal/bus"
)

func TestCommand_JSONFlatForm(t *testing.T) {
	t.Parallel()

	cmd := bus.NewCommand("select_guild", map[string]any{"guild_id": "123"})
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("Unmarshal flat: %v", err)
	}
	if flat["command"] != "select_guild" {
		t.Errorf("command = %v, want select_guild", flat["command"])
	}
	if flat["guild_id"] != "123" {
		t.Errorf("guild_id = %v, want 123", flat["guild_id"])
	}
	if _, nested := flat["params"]; nested {
		t.Error("wire form must not nest params")
	}
}

func TestCommand_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		wantName string
		wantKey  string
		wantVal  any
		wantErr  bool
	}{
		{
			name:     "flat",
			in:       `{"command":"create_role","role_name":"Crew","permissions":1024}`,
			wantName: "create_role",
			wantKey:  "permissions",
			wantVal:  int64(1024),
		},
		{
			name:     "nested params",
			in:       `{"command":"select_guild","params":{"guild_id":"42"}}`,
			wantName: "select_guild",
			wantKey:  "guild_id",
			wantVal:  "42",
		},
		{
			name:     "flat wins over nested",
			in:       `{"command":"x","params":{"a":"nested"},"a":"flat"}`,
			wantName: "x",
			wantKey:  "a",
			wantVal:  "flat",
		},
		{
			name:     "float stays float",
			in:       `{"command":"x","ratio":0.5}`,
			wantName: "x",
			wantKey:  "ratio",
			wantVal:  0.5,
		},
		{name: "missing command", in: `{"guild_id":"1"}`, wantErr: true},
		{name: "empty command", in: `{"command":""}`, wantErr: true},
		{name: "not an object", in: `[1,2]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cmd bus.Command
			err := json.Unmarshal([]byte(tt.in), &cmd)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%s) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if cmd.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", cmd.Name, tt.wantName)
			}
			if got := cmd.Params[tt.wantKey]; got != tt.wantVal {
				t.Errorf("Params[%q] = %#v, want %#v", tt.wantKey, got, tt.wantVal)
			}
			if _, ok := cmd.Params["command"]; ok {
				t.Error("Params must not contain the command name")
			}
		})
	}
}

func TestCommand_CBORRoundTrip(t *testing.T) {
	t.Parallel()

	cmd := bus.NewCommand("create_category", map[string]any{
		"category_name": "Bridge",
		"position":      3,
		"overwrites": []any{
			map[string]any{"id": "1", "type": "role", "allow": 1024},
		},
	})
	data, err := bus.Marshal(cmd)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got bus.Command
	if err := bus.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Name != "create_category" {
		t.Errorf("Name = %q", got.Name)
	}
	if pos, err := got.Int("position", 0); err != nil || pos != 3 {
		t.Errorf("position = %d, %v; want 3", pos, err)
	}
	ows, err := got.Objects("overwrites")
	if err != nil {
		t.Fatalf("Objects: %v", err)
	}
	if len(ows) != 1 || ows[0]["type"] != "role" {
		t.Errorf("overwrites = %#v", ows)
	}
}

func TestEvent_Wire(t *testing.T) {
	t.Parallel()

	ev := bus.NewEvent("w1", "ready", nil)
	if ev.Source != bus.SourceWorker {
		t.Errorf("Source = %q, want %q", ev.Source, bus.SourceWorker)
	}
	if ev.Payload == nil {
		t.Fatal("Payload is nil, want empty map")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"source":"worker","worker_id":"w1","type":"ready","payload":{}}`
	if string(data) != want {
		t.Errorf("JSON = %s, want %s", data, want)
	}
}

func TestAudioFrame_CBOR(t *testing.T) {
	t.Parallel()

	in := bus.AudioFrame{UserID: "77", PCM: []byte{1, 2, 3}}
	data, err := bus.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := bus.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal map: %v", err)
	}
	if m["user_id"] != "77" {
		t.Errorf("user_id = %v, want 77", m["user_id"])
	}
	if _, ok := m["pcm"].([]byte); !ok {
		t.Errorf("pcm = %T, want []byte", m["pcm"])
	}
}

func TestCommand_ID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		val     any
		want    string
		wantErr error
	}{
		{name: "string", val: "123456789012345678", want: "123456789012345678"},
		{name: "padded string", val: " 12 ", want: "12"},
		{name: "int64", val: int64(42), want: "42"},
		{name: "uint64", val: uint64(1 << 62), want: "4611686018427387904"},
		{name: "integral float", val: float64(7), want: "7"},
		{name: "fractional float", val: 7.5, wantErr: bus.ErrInvalidParam},
		{name: "negative", val: int64(-1), wantErr: bus.ErrInvalidParam},
		{name: "bool", val: true, wantErr: bus.ErrInvalidParam},
		{name: "empty", val: "", wantErr: bus.ErrMissingParam},
		{name: "null", val: nil, wantErr: bus.ErrMissingParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cmd := bus.NewCommand("x", map[string]any{"id": tt.val})
			got, err := cmd.ID("id")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ID error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ID: %v", err)
			}
			if got != tt.want {
				t.Errorf("ID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommand_Accessors(t *testing.T) {
	t.Parallel()

	cmd := bus.NewCommand("x", map[string]any{
		"name":   "Ops",
		"count":  "12",
		"bad":    []any{1},
		"perm":   uint64(8),
		"object": map[string]any{},
	})

	if _, err := cmd.String("missing"); !errors.Is(err, bus.ErrMissingParam) {
		t.Errorf("String(missing) error = %v, want ErrMissingParam", err)
	}
	if _, err := cmd.String("perm"); !errors.Is(err, bus.ErrInvalidParam) {
		t.Errorf("String(perm) error = %v, want ErrInvalidParam", err)
	}
	if s, _ := cmd.String("name"); s != "Ops" {
		t.Errorf("String(name) = %q", s)
	}
	if n, err := cmd.Int("count", 0); err != nil || n != 12 {
		t.Errorf("Int(count) = %d, %v; want 12", n, err)
	}
	if n, err := cmd.Int("absent", 5); err != nil || n != 5 {
		t.Errorf("Int(absent) = %d, %v; want default 5", n, err)
	}
	if n, err := cmd.Int64("perm", 0); err != nil || n != 8 {
		t.Errorf("Int64(perm) = %d, %v; want 8", n, err)
	}
	if _, err := cmd.Int("bad", 0); !errors.Is(err, bus.ErrInvalidParam) {
		t.Errorf("Int(bad) error = %v, want ErrInvalidParam", err)
	}
	if _, err := cmd.Objects("object"); !errors.Is(err, bus.ErrInvalidParam) {
		t.Errorf("Objects(object) error = %v, want ErrInvalidParam", err)
	}
	if got, err := cmd.Objects("absent"); err != nil || got != nil {
		t.Errorf("Objects(absent) = %v, %v; want nil, nil", got, err)
	}
}

func TestCommand_Alias(t *testing.T) {
	t.Parallel()

	legacy := bus.NewCommand("add_audio_target", map[string]any{"target_bot_id": "b"})
	if k := legacy.Alias("target_worker_id", "target_bot_id"); k != "target_bot_id" {
		t.Errorf("Alias = %q, want target_bot_id", k)
	}
	both := bus.NewCommand("add_audio_target", map[string]any{"target_bot_id": "b", "target_worker_id": "w"})
	if k := both.Alias("target_worker_id", "target_bot_id"); k != "target_worker_id" {
		t.Errorf("Alias = %q, want target_worker_id", k)
	}
	none := bus.NewCommand("add_audio_target", nil)
	if k := none.Alias("target_worker_id", "target_bot_id"); k != "target_worker_id" {
		t.Errorf("Alias = %q, want target_worker_id", k)
	}
}
