package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestReadCommandsDispatchesValidLines(t *testing.T) {
	var handled []Command
	handle := func(_ context.Context, cmd Command) error {
		handled = append(handled, cmd)
		return nil
	}

	input := strings.NewReader(
		`{"action":"add_target","ip":"192.168.1.50"}` + "\n" +
			`{"action":"set_quiet","enabled":true,"interval":30}` + "\n",
	)

	d := NewDispatcher(zap.NewNop())
	ReadCommands(context.Background(), input, zap.NewNop(), d, handle)

	if len(handled) != 2 {
		t.Fatalf("handled %d commands, want 2", len(handled))
	}
	if handled[0].Action != ActionAddTarget || handled[0].IP != "192.168.1.50" {
		t.Errorf("first command = %+v, want add_target/192.168.1.50", handled[0])
	}
	if handled[1].Action != ActionSetQuiet || !handled[1].Enabled || handled[1].Interval != 30 {
		t.Errorf("second command = %+v, want set_quiet/enabled/interval=30", handled[1])
	}
}

func TestReadCommandsEmitsErrorOnMalformedLine(t *testing.T) {
	handle := func(_ context.Context, cmd Command) error { return nil }
	input := strings.NewReader("not json\n")

	d := NewDispatcher(zap.NewNop())
	ReadCommands(context.Background(), input, zap.NewNop(), d, handle)

	var buf bytes.Buffer
	d.drain(&buf)

	var evt Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &evt); err != nil {
		t.Fatalf("unmarshal emitted event: %v", err)
	}
	if evt.Type != TypeError {
		t.Errorf("emitted event type = %v, want error", evt.Type)
	}
}

func TestReadCommandsEmitsErrorOnHandlerFailure(t *testing.T) {
	handle := func(_ context.Context, cmd Command) error {
		return errTestHandler
	}
	input := strings.NewReader(`{"action":"stop"}` + "\n")

	d := NewDispatcher(zap.NewNop())
	ReadCommands(context.Background(), input, zap.NewNop(), d, handle)

	var buf bytes.Buffer
	d.drain(&buf)
	if buf.Len() == 0 {
		t.Fatal("expected an error event to be emitted for a failing handler")
	}
}

var errTestHandler = &testError{"handler failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
