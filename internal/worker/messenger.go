package worker

import (
	"context"
	"log/slog"

	"github.com/iambrandonn/statekeeper/internal/extproc"
)

// Button is one inline reply button attached to a dispatched prompt
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Messenger delivers a message to the user through the host chat runtime
type Messenger interface {
	Send(ctx context.Context, target, threadID, text string, buttons []Button) (messageID string, err error)
}

// CommandMessenger sends via an external command speaking the JSON
// stdin/stdout contract: stdin {target, thread_id, text, buttons}, stdout
// {message_id}.
type CommandMessenger struct {
	argv   []string
	runner *extproc.Runner
}

// NewCommandMessenger creates a command-backed messenger
func NewCommandMessenger(argv []string, runner *extproc.Runner) *CommandMessenger {
	return &CommandMessenger{argv: argv, runner: runner}
}

// Send implements Messenger
func (m *CommandMessenger) Send(ctx context.Context, target, threadID, text string, buttons []Button) (string, error) {
	request := map[string]any{
		"target":    target,
		"thread_id": threadID,
		"text":      text,
		"buttons":   buttons,
	}
	var response struct {
		MessageID string `json:"message_id"`
	}
	if err := m.runner.RunJSON(ctx, m.argv, request, &response); err != nil {
		return "", err
	}
	return response.MessageID, nil
}

// LogMessenger logs instead of sending; the dry-run default when no send
// command is configured.
type LogMessenger struct {
	Logger *slog.Logger
}

// Send implements Messenger
func (m *LogMessenger) Send(_ context.Context, target, _, text string, buttons []Button) (string, error) {
	m.Logger.Info("message (dry run)", "target", target, "text", text, "buttons", len(buttons))
	return "", nil
}
