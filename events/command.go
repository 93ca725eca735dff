package events

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"go.uber.org/zap"
)

// CommandAction is the closed set of stdin command-plane actions (§6).
type CommandAction string

const (
	ActionStop            CommandAction = "stop"
	ActionAddTarget       CommandAction = "add_target"
	ActionRemoveTarget    CommandAction = "remove_target"
	ActionSetQuiet        CommandAction = "set_quiet"
	ActionAddBlock        CommandAction = "add_block"
	ActionRemoveBlock     CommandAction = "remove_block"
	ActionBlockCategory   CommandAction = "block_category"
	ActionUnblockCategory CommandAction = "unblock_category"
	ActionAddKeyword      CommandAction = "add_keyword"
	ActionRemoveKeyword   CommandAction = "remove_keyword"
	ActionDNSMode         CommandAction = "dns_mode"
)

// Command is one decoded command-plane line. Unused fields for a given
// Action are left zero.
type Command struct {
	Action   CommandAction `json:"action"`
	IP       string        `json:"ip,omitempty"`
	Hostname string        `json:"hostname,omitempty"`
	Enabled  bool          `json:"enabled,omitempty"`
	Interval int           `json:"interval,omitempty"`
	Domain   string        `json:"domain,omitempty"`
	Category string        `json:"category,omitempty"`
	Word     string        `json:"word,omitempty"`
	Mode     string        `json:"mode,omitempty"`
}

// CommandHandler reacts to one decoded Command. Returning an error emits
// an `error` event and the command is treated as a no-op (§7's
// configuration-error taxonomy).
type CommandHandler func(ctx context.Context, cmd Command) error

// ReadCommands decodes one JSON object per line from r until r is
// exhausted or ctx is canceled, dispatching each to handle. Malformed
// lines emit an error event and are otherwise skipped, matching
// configuration errors being rejected at the command boundary as no-ops.
func ReadCommands(ctx context.Context, r io.Reader, log *zap.Logger, dispatcher *Dispatcher, handle CommandHandler) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			log.Warn("malformed command", zap.Error(err))
			dispatcher.Emit(Event{Type: TypeError, Message: "malformed command: " + err.Error()})
			continue
		}

		if err := handle(ctx, cmd); err != nil {
			log.Warn("command handler failed", zap.String("action", string(cmd.Action)), zap.Error(err))
			dispatcher.Emit(Event{Type: TypeError, Message: err.Error()})
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("command stream read error", zap.Error(err))
	}
}
