package worker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/statekeeper/internal/confirm"
	"github.com/iambrandonn/statekeeper/internal/dlq"
	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/learner"
	"github.com/iambrandonn/statekeeper/internal/schema"
	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/store"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var workerNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

type sentMessage struct {
	Target  string
	Text    string
	Buttons []Button
}

type fakeMessenger struct {
	sent []sentMessage
}

func (m *fakeMessenger) Send(_ context.Context, target, _ string, text string, buttons []Button) (string, error) {
	m.sent = append(m.sent, sentMessage{Target: target, Text: text, Buttons: buttons})
	return "msg-1", nil
}

type workerFixture struct {
	worker    *Worker
	store     *store.Store
	pipeline  *ingest.Pipeline
	messenger *fakeMessenger
	session   string
	statePath string
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	t.Setenv("STATE_TELEGRAM_TARGET", "")
	t.Setenv("STATE_TELEGRAM_THREAD_ID", "")

	root := t.TempDir()
	st := store.New(root, quietLogger)
	st.SetClock(func() time.Time { return workerNow })

	validator, err := schema.NewValidator()
	require.NoError(t, err)
	deadLine := dlq.NewLog(st.DLQPath(), quietLogger)
	events := learner.NewEventLog(st.LearningEventsPath(), quietLogger)

	pipeline := ingest.New(st, validator, deadLine, quietLogger)
	pipeline.SetClock(func() time.Time { return workerNow })
	lifecycle := confirm.New(st, validator, deadLine, events, quietLogger)
	lifecycle.SetClock(func() time.Time { return workerNow })

	sessionsDir := filepath.Join(root, "sessions")
	require.NoError(t, os.MkdirAll(sessionsDir, 0o755))
	session := filepath.Join(sessionsDir, "chat-homebot.jsonl")
	require.NoError(t, os.WriteFile(session, nil, 0o644))

	messenger := &fakeMessenger{}
	w := New(st, lifecycle, messenger, Options{
		Target:      "homebot",
		EntityID:    "user:brandon",
		SessionsDir: sessionsDir,
	}, quietLogger)
	w.SetClock(func() time.Time { return workerNow })

	return &workerFixture{
		worker:    w,
		store:     st,
		pipeline:  pipeline,
		messenger: messenger,
		session:   session,
		statePath: st.WorkerStatePath(),
	}
}

func (f *workerFixture) seedPrompt(t *testing.T, eventID, value string) *state.PendingPrompt {
	t.Helper()
	obs := &state.Observation{
		EventID:        eventID,
		EventTS:        state.FormatTS(workerNow),
		Domain:         "travel",
		EntityID:       "user:brandon",
		Field:          "travel.next_trip",
		CandidateValue: value,
		Intent:         "assertive",
		Source:         state.SourceRef{Type: state.SourceCalendarPoll, Ref: "gcal:primary#item-1"},
		Corroborators:  []state.SourceRef{},
	}
	result, err := f.pipeline.Ingest(context.Background(), obs, ingest.Options{})
	require.NoError(t, err)
	require.Equal(t, ingest.StatusPendingConfirmation, result.Status)
	return result.Prompt
}

func (f *workerFixture) appendReply(t *testing.T, line string) {
	t.Helper()
	file, err := os.OpenFile(f.session, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer file.Close()
	_, err = file.WriteString(line + "\n")
	require.NoError(t, err)
}

func TestTickDispatchesPendingPrompt(t *testing.T) {
	f := newWorkerFixture(t)
	prompt := f.seedPrompt(t, "9f0c2f9a-3333-4000-8000-000000000001", "tokyo")

	report, err := f.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, prompt.PromptID, report.Dispatched)

	require.Len(t, f.messenger.sent, 1)
	msg := f.messenger.sent[0]
	assert.Equal(t, "homebot", msg.Target)
	assert.Contains(t, msg.Text, "Please confirm: [user:brandon] next_trip -> tokyo")
	assert.Contains(t, msg.Text, "confidence=82%")
	require.Len(t, msg.Buttons, 2)
	assert.Equal(t, "/state-confirm "+prompt.PromptID+" yes", msg.Buttons[0].CallbackData)
	assert.Equal(t, "/state-confirm "+prompt.PromptID+" no", msg.Buttons[1].CallbackData)

	rs, err := LoadRuntimeState(f.statePath)
	require.NoError(t, err)
	assert.Equal(t, prompt.PromptID, rs.ActivePromptID)
	assert.Equal(t, "msg-1", rs.ActiveMessageID)
	assert.Equal(t, SessionEOF(f.session), rs.SessionCursor)
}

func TestTickAbsorbsReplyAndCommits(t *testing.T) {
	f := newWorkerFixture(t)
	prompt := f.seedPrompt(t, "9f0c2f9a-3333-4000-8000-000000000002", "tokyo")

	_, err := f.worker.Tick(context.Background())
	require.NoError(t, err)

	f.appendReply(t, `{"role":"user","id":"m1","ts":"2026-08-24T12:05:00Z","text":"yes"}`)

	report, err := f.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, prompt.PromptID, report.ResolvedPrompt)
	assert.Equal(t, DecisionConfirm, report.ResolvedAction)
	assert.Equal(t, 1, report.RepliesParsed)

	doc, err := f.store.Load()
	require.NoError(t, err)
	rec := doc.RecordFor("user:brandon", "travel", "next_trip")
	require.NotNil(t, rec)
	assert.Equal(t, "tokyo", rec.Value)
	assert.Empty(t, doc.PendingConfirmations)

	// dispatch + acknowledgement
	require.Len(t, f.messenger.sent, 2)
	assert.Contains(t, f.messenger.sent[1].Text, "Applied: next_trip -> tokyo (confirm)")

	rs, err := LoadRuntimeState(f.statePath)
	require.NoError(t, err)
	assert.Empty(t, rs.ActivePromptID)
}

func TestTickAbsorbsEditReply(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedPrompt(t, "9f0c2f9a-3333-4000-8000-000000000003", "tokyo")

	_, err := f.worker.Tick(context.Background())
	require.NoError(t, err)

	f.appendReply(t, `{"role":"user","id":"m1","ts":"2026-08-24T12:05:00Z","text":"edit: osaka"}`)

	report, err := f.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionEdit, report.ResolvedAction)

	doc, err := f.store.Load()
	require.NoError(t, err)
	rec := doc.RecordFor("user:brandon", "travel", "next_trip")
	require.NotNil(t, rec)
	assert.Equal(t, "osaka", rec.Value)
}

func TestTickEditHelpKeepsPromptActive(t *testing.T) {
	f := newWorkerFixture(t)
	prompt := f.seedPrompt(t, "9f0c2f9a-3333-4000-8000-000000000004", "tokyo")

	_, err := f.worker.Tick(context.Background())
	require.NoError(t, err)

	f.appendReply(t, `{"role":"user","id":"m1","ts":"2026-08-24T12:05:00Z","text":"edit"}`)

	report, err := f.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.ResolvedPrompt)

	require.Len(t, f.messenger.sent, 2)
	assert.Contains(t, f.messenger.sent[1].Text, "To edit, reply: edit "+prompt.PromptID[:8])

	rs, err := LoadRuntimeState(f.statePath)
	require.NoError(t, err)
	assert.Equal(t, prompt.PromptID, rs.ActivePromptID, "a usage hint must not resolve the prompt")

	doc, err := f.store.Load()
	require.NoError(t, err)
	assert.Len(t, doc.PendingConfirmations, 1)
}

func TestTickIgnoresRepliesForOtherPrompts(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedPrompt(t, "9f0c2f9a-3333-4000-8000-000000000005", "tokyo")

	report, err := f.worker.Tick(context.Background())
	require.NoError(t, err)
	active := report.Dispatched

	doc, err := f.store.Load()
	require.NoError(t, err)
	var other string
	for id := range doc.PendingConfirmations {
		if id != active {
			other = id
		}
	}
	if other == "" {
		// mint a second prompt after the first dispatch
		second := f.seedPrompt(t, "9f0c2f9a-3333-4000-8000-000000000006", "osaka")
		other = second.PromptID
	}

	f.appendReply(t, `{"role":"user","id":"m1","ts":"2026-08-24T12:05:00Z","text":"confirm `+other+`"}`)

	report, err = f.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.ResolvedPrompt, "a reply naming another prompt must not resolve the active one")

	rs, err := LoadRuntimeState(f.statePath)
	require.NoError(t, err)
	assert.Equal(t, active, rs.ActivePromptID)
}

func TestTickSkipsWithoutTarget(t *testing.T) {
	f := newWorkerFixture(t)
	f.worker.opts.Target = ""

	report, err := f.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "unresolved_target", report.Skipped)
	assert.Empty(t, f.messenger.sent)
}

func TestResolveTargetFromSidecar(t *testing.T) {
	f := newWorkerFixture(t)
	sidecar := filepath.Join(t.TempDir(), "review.yaml")
	require.NoError(t, os.WriteFile(sidecar, []byte("target: homebot\nthread_id: \"77\"\n"), 0o644))

	f.worker.opts.Target = ""
	f.worker.opts.SidecarPath = sidecar

	target, threadID := f.worker.resolveTarget()
	assert.Equal(t, "homebot", target)
	assert.Equal(t, "77", threadID)
}

func TestTickClearsStaleActivePrompt(t *testing.T) {
	f := newWorkerFixture(t)

	require.NoError(t, SaveRuntimeState(f.statePath, &RuntimeState{
		Target:         "homebot",
		EntityID:       "user:brandon",
		ActivePromptID: "9f0c2f9a-dead-4000-8000-000000000000",
	}))

	prompt := f.seedPrompt(t, "9f0c2f9a-3333-4000-8000-000000000007", "tokyo")

	report, err := f.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, prompt.PromptID, report.Dispatched, "a stale active prompt must clear and make way")
}

func TestRuntimeStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker-state.json")

	rs, err := LoadRuntimeState(path)
	require.NoError(t, err)
	assert.Equal(t, RuntimeStateVersion, rs.Version)

	rs.Target = "homebot"
	rs.SessionCursor = 512
	rs.ActivePromptID = "9f0c2f9a-3333-4000-8000-000000000008"
	require.NoError(t, SaveRuntimeState(path, rs))

	loaded, err := LoadRuntimeState(path)
	require.NoError(t, err)
	assert.Equal(t, rs.Target, loaded.Target)
	assert.Equal(t, rs.SessionCursor, loaded.SessionCursor)
	assert.Equal(t, rs.ActivePromptID, loaded.ActivePromptID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}
