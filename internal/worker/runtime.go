// Package worker drives the one-at-a-time confirmation conversation: each
// tick absorbs new user replies, resolves the active prompt when a
// decision arrived, and dispatches the next pending prompt.
package worker

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/iambrandonn/statekeeper/internal/fsutil"
)

// RuntimeStateVersion is written into every saved runtime state
const RuntimeStateVersion = "1.0"

// RuntimeState is the worker's persisted cursor and active-prompt state,
// kept in its own file so prompt dispatch survives restarts.
type RuntimeState struct {
	Version          string `json:"version"`
	Target           string `json:"target"`
	EntityID         string `json:"entity_id"`
	SessionID        string `json:"session_id,omitempty"`
	SessionFile      string `json:"session_file,omitempty"`
	SessionCursor    int64  `json:"session_cursor"`
	ActivePromptID   string `json:"active_prompt_id,omitempty"`
	ActiveMessageID  string `json:"active_message_id,omitempty"`
	LastDispatchedAt string `json:"last_dispatched_at,omitempty"`
	LastDecisionAt   string `json:"last_decision_at,omitempty"`
}

// LoadRuntimeState reads the runtime state, returning a zero state when
// the file does not exist yet.
func LoadRuntimeState(path string) (*RuntimeState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RuntimeState{Version: RuntimeStateVersion}, nil
		}
		return nil, fmt.Errorf("failed to read worker state: %w", err)
	}

	var rs RuntimeState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker state: %w", err)
	}
	if rs.Version == "" {
		rs.Version = RuntimeStateVersion
	}
	return &rs, nil
}

// SaveRuntimeState writes the runtime state atomically
func SaveRuntimeState(path string, rs *RuntimeState) error {
	rs.Version = RuntimeStateVersion
	return fsutil.AtomicWriteJSON(path, rs)
}
