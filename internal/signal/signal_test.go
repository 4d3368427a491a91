package signal

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/statekeeper/internal/dlq"
	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/schema"
	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/store"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var signalNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newTestAdapter(t *testing.T) (*Adapter, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir(), quietLogger)
	st.SetClock(func() time.Time { return signalNow })

	validator, err := schema.NewValidator()
	require.NoError(t, err)

	deadLine := dlq.NewLog(st.DLQPath(), quietLogger)
	pipeline := ingest.New(st, validator, deadLine, quietLogger)
	pipeline.SetClock(func() time.Time { return signalNow })

	adapter := New(pipeline, validator, deadLine, quietLogger)
	adapter.SetClock(func() time.Time { return signalNow })
	return adapter, st
}

func fetchedEvents() []CalendarEvent {
	return []CalendarEvent{
		{
			Ref:      "evt-100",
			Summary:  "Flight to Tokyo",
			Location: "SFO",
			Start:    "2026-09-01T08:00:00Z",
			End:      "2026-09-01T19:00:00Z",
		},
		{
			Ref:     "evt-101",
			Summary: "Hotel check-in",
			Start:   "2026-09-01T21:00:00Z",
			End:     "2026-09-01T22:00:00Z",
		},
	}
}

func TestCalendarSignalIngest(t *testing.T) {
	adapter, st := newTestAdapter(t)

	sig := BuildCalendarSignal("user:brandon", ModePoll, "gcal:primary", fetchedEvents(), signalNow)
	result, err := adapter.Ingest(context.Background(), sig, ingest.Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusOK, result.Status)
	// calendar_poll sits in the ask band for common domains
	assert.Equal(t, 2, result.Counters[string(ingest.StatusPendingConfirmation)])

	doc, err := st.Load()
	require.NoError(t, err)
	assert.Len(t, doc.PendingConfirmations, 2)
}

func TestRePollIsANoOp(t *testing.T) {
	adapter, st := newTestAdapter(t)

	first := BuildCalendarSignal("user:brandon", ModePoll, "gcal:primary", fetchedEvents(), signalNow)
	_, err := adapter.Ingest(context.Background(), first, ingest.Options{})
	require.NoError(t, err)

	// A fresh poll of the same feed mints a new signal_id but the same
	// content-derived event ids.
	second := BuildCalendarSignal("user:brandon", ModePoll, "gcal:primary", fetchedEvents(), signalNow.Add(time.Hour))
	require.NotEqual(t, first.SignalID, second.SignalID)

	result, err := adapter.Ingest(context.Background(), second, ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Counters[string(ingest.StatusDuplicate)])

	doc, err := st.Load()
	require.NoError(t, err)
	assert.Len(t, doc.PendingConfirmations, 2, "a re-poll must not open new prompts")
}

func TestInvalidSignalIsQuarantined(t *testing.T) {
	adapter, st := newTestAdapter(t)

	sig := BuildEmailSignal("user:brandon", ModePoll, "gmail:inbox", []EmailThread{
		{Ref: "th-1", Subject: "Invoice payment overdue", From: "billing@example.com"},
	}, signalNow)
	payload, err := schema.Payload(sig)
	require.NoError(t, err)
	payload["source"].(map[string]any)["kind"] = "carrier_pigeon"

	result, err := adapter.IngestPayload(context.Background(), payload, ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusValidationFailed, result.Status)
	require.NotEmpty(t, result.DLQID)

	deadLine := dlq.NewLog(st.DLQPath(), quietLogger)
	folded, err := deadLine.Fold()
	require.NoError(t, err)
	assert.Contains(t, folded.Entries, result.DLQID)
}

func TestBuildCalendarSignalRefinesFamilyToSchool(t *testing.T) {
	events := []CalendarEvent{
		{Ref: "evt/200", Summary: "Piano lesson with daughter", Start: "2026-09-02T16:00:00Z"},
	}
	sig := BuildCalendarSignal("family:chen", ModeWebhook, "gcal:family", events, signalNow)

	require.Len(t, sig.Items, 1)
	item := sig.Items[0]
	assert.Equal(t, "school", item.Domain)
	assert.Equal(t, "school.event.evt_200", item.Field)
	assert.Equal(t, "calendar_event:evt/200", item.Ref)
	assert.Equal(t, string(state.IntentAssertive), item.Intent)

	value, ok := item.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Piano lesson with daughter", value["summary"])
}

func TestBuildEmailSignal(t *testing.T) {
	threads := []EmailThread{
		{Ref: "th-9", Subject: "Invoice payment overdue", From: "billing@example.com", Snippet: "Your invoice is due"},
	}
	sig := BuildEmailSignal("user:brandon", ModePoll, "gmail:inbox", threads, signalNow)

	assert.Equal(t, KindEmail, sig.Source.Kind)
	assert.Equal(t, ModePoll, sig.Source.Mode)
	assert.Equal(t, state.FormatTS(signalNow), sig.EventTS)
	require.Len(t, sig.Items, 1)

	item := sig.Items[0]
	assert.Equal(t, "financial", item.Domain)
	assert.Equal(t, "financial.thread.th-9", item.Field)
	assert.Equal(t, "email_thread:th-9", item.Ref)
}

func TestSourceTypeFor(t *testing.T) {
	cases := []struct {
		kind, mode, want string
	}{
		{KindCalendar, ModeWebhook, state.SourceCalendarWebhook},
		{KindCalendar, ModePoll, state.SourceCalendarPoll},
		{KindEmail, ModeWebhook, state.SourceEmailWebhook},
		{KindEmail, ModePoll, state.SourceEmailPoll},
		{"pager", "poll", state.SourceEmailPoll},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sourceTypeFor(tc.kind, tc.mode), "%s/%s", tc.kind, tc.mode)
	}
}

func TestSanitizeRef(t *testing.T) {
	assert.Equal(t, "evt-1.a_b", sanitizeRef("EVT-1.a/B"))
	assert.Equal(t, "unknown", sanitizeRef(""))
	long := sanitizeRef(strings.Repeat("x", 100))
	assert.Len(t, long, 64)
}
