package worker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iambrandonn/statekeeper/internal/ndjson"
	"github.com/iambrandonn/statekeeper/internal/state"
)

// Reply is one parsed user-role message from a host-chat session file
type Reply struct {
	ID   string
	TS   string
	Text string
}

// LocateSession finds the most recently modified session file under dir
// whose name contains the target (host chat runtimes name session files
// after the peer). An empty result means no session yet.
func LocateSession(dir, target string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read sessions dir: %w", err)
	}

	needle := strings.ToLower(sanitizeTarget(target))
	var best string
	var bestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(name), needle) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(dir, name)
			bestMod = info.ModTime()
		}
	}
	return best, nil
}

// ReadReplies reads bytes [cursor, EOF) of the session file, parses the
// newline-delimited message records, and keeps user-role messages with
// their host-chat metadata envelopes stripped. The returned cursor is the
// new EOF.
func ReadReplies(path string, cursor int64) ([]Reply, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cursor, nil
		}
		return nil, cursor, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, cursor, fmt.Errorf("failed to stat session file: %w", err)
	}
	size := info.Size()
	if cursor > size {
		// Truncated or rotated session: start over
		cursor = 0
	}
	if cursor == size {
		return nil, size, nil
	}

	if _, err := file.Seek(cursor, io.SeekStart); err != nil {
		return nil, cursor, fmt.Errorf("failed to seek session file: %w", err)
	}

	var replies []Reply
	_, err = ndjson.Scan(file, func(_ int, record map[string]any, _ []byte) error {
		reply, ok := decodeMessage(record)
		if ok {
			replies = append(replies, reply)
		}
		return nil
	})
	if err != nil {
		return nil, cursor, err
	}
	return replies, size, nil
}

// SessionEOF returns the current size of the session file, 0 when absent
func SessionEOF(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// decodeMessage extracts {id, ts, text} from one host-chat message record,
// tolerating the envelope variants the runtime emits.
func decodeMessage(record map[string]any) (Reply, bool) {
	role, _ := record["role"].(string)
	if role != "user" {
		return Reply{}, false
	}

	var reply Reply
	for _, key := range []string{"id", "message_id", "messageId"} {
		if v, ok := record[key].(string); ok && v != "" {
			reply.ID = v
			break
		}
	}
	for _, key := range []string{"ts", "timestamp"} {
		switch v := record[key].(type) {
		case string:
			reply.TS = v
		case float64:
			reply.TS = state.FormatTS(TimestampFromUnix(v))
		}
		if reply.TS != "" {
			break
		}
	}

	reply.Text = extractText(record)
	if strings.TrimSpace(reply.Text) == "" {
		return Reply{}, false
	}
	return reply, true
}

// extractText handles plain "text", plain string "content", and the
// structured content-part array envelope.
func extractText(record map[string]any) string {
	if text, ok := record["text"].(string); ok {
		return text
	}
	switch content := record["content"].(type) {
	case string:
		return content
	case []any:
		var parts []string
		for _, part := range content {
			obj, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := obj["type"].(string); t != "" && t != "text" {
				continue
			}
			if text, ok := obj["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// TimestampFromUnix interprets a numeric message timestamp, auto-detecting
// seconds versus milliseconds.
func TimestampFromUnix(v float64) time.Time {
	n := int64(v)
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

// sanitizeTarget strips the punctuation host runtimes drop from filenames
func sanitizeTarget(target string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, target)
}
