package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/averlon/go-convo-backend/internal/buffer"
	"github.com/averlon/go-convo-backend/internal/delivery"
	"github.com/averlon/go-convo-backend/internal/domain"
	"github.com/averlon/go-convo-backend/internal/queue"
)

// ----- Fakes -----

type fakeBursts struct {
	msgs     []buffer.Message
	deadline time.Time
	cleared  int
	clearErr error
}

func (f *fakeBursts) Read(context.Context, string, string) []buffer.Message { return f.msgs }

func (f *fakeBursts) Deadline(context.Context, string, string) (time.Time, bool) {
	return f.deadline, !f.deadline.IsZero()
}

func (f *fakeBursts) Clear(context.Context, string, string) (bool, error) {
	if f.clearErr != nil {
		return false, f.clearErr
	}
	f.cleared++
	had := len(f.msgs) > 0
	f.msgs = nil
	return had, nil
}

type fakeQueue struct {
	delays []time.Duration
	err    error
}

func (f *fakeQueue) Schedule(_ context.Context, _ queue.Ticket, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.delays = append(f.delays, delay)
	return nil
}

type fakeTranscripts struct {
	recorded   []buffer.Message
	reply      string
	history    []domain.Message
	historyErr error
	burstErr   error
	replyErr   error
}

func (f *fakeTranscripts) RecordUserBurst(_ context.Context, _, _ string, msgs []buffer.Message) error {
	if f.burstErr != nil {
		return f.burstErr
	}
	f.recorded = append(f.recorded, msgs...)
	return nil
}

func (f *fakeTranscripts) RecordAssistantReply(_ context.Context, _, _, content string) (*domain.Message, error) {
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	f.reply = content
	return &domain.Message{Role: domain.RoleAssistant, Content: content}, nil
}

func (f *fakeTranscripts) History(context.Context, string) ([]domain.Message, error) {
	return f.history, f.historyErr
}

type fakeReplier struct {
	gotPrompt  string
	gotHistory []domain.Message
	out        string
	err        error
	calls      int
}

func (f *fakeReplier) Reply(_ context.Context, _, _, prompt string, history []domain.Message) (string, error) {
	f.calls++
	f.gotPrompt = prompt
	f.gotHistory = history
	return f.out, f.err
}

type fakePusher struct {
	payloads []delivery.Payload
}

func (f *fakePusher) Publish(_ context.Context, _, _ string, p delivery.Payload) (bool, error) {
	f.payloads = append(f.payloads, p)
	return true, nil
}

func msgsAt(contents ...string) []buffer.Message {
	base := time.Now().UTC()
	out := make([]buffer.Message, len(contents))
	for i, c := range contents {
		out[i] = buffer.Message{ID: "m", Content: c, ReceivedAt: base.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func ticket() queue.Ticket { return queue.NewTicket("t1", "c1") }

// ----- Tests -----

func TestProcessCoalescesAndReplies(t *testing.T) {
	bursts := &fakeBursts{msgs: msgsAt("Hi", "are you open?")}
	trans := &fakeTranscripts{history: []domain.Message{{Role: domain.RoleUser, Content: "earlier"}}}
	rep := &fakeReplier{out: "We open at nine."}
	push := &fakePusher{}
	p := New(bursts, &fakeQueue{}, trans, rep, push, zerolog.Nop())

	if err := p.Process(context.Background(), ticket()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if rep.calls != 1 {
		t.Fatalf("replier called %d times, want 1", rep.calls)
	}
	if rep.gotPrompt != "Hi\n\nare you open?" {
		t.Errorf("prompt = %q", rep.gotPrompt)
	}
	if len(rep.gotHistory) != 1 || rep.gotHistory[0].Content != "earlier" {
		t.Errorf("history = %+v", rep.gotHistory)
	}
	if len(trans.recorded) != 2 {
		t.Errorf("recorded %d user rows, want 2", len(trans.recorded))
	}
	if trans.reply != "We open at nine." {
		t.Errorf("assistant reply = %q", trans.reply)
	}
	if bursts.cleared != 1 {
		t.Errorf("buffer cleared %d times, want 1", bursts.cleared)
	}
	if len(push.payloads) != 1 || push.payloads[0].Type != delivery.TypeMessage || push.payloads[0].Role != "assistant" {
		t.Errorf("pushed %+v, want one assistant reply", push.payloads)
	}
}

func TestProcessEmptyBufferIsNoop(t *testing.T) {
	bursts := &fakeBursts{}
	rep := &fakeReplier{out: "never"}
	trans := &fakeTranscripts{}
	p := New(bursts, &fakeQueue{}, trans, rep, &fakePusher{}, zerolog.Nop())

	if err := p.Process(context.Background(), ticket()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rep.calls != 0 || len(trans.recorded) != 0 || bursts.cleared != 0 {
		t.Error("empty buffer triggered work")
	}
}

func TestProcessWhitespaceBurstClearsWithoutReply(t *testing.T) {
	bursts := &fakeBursts{msgs: msgsAt("   ", "\t\n")}
	rep := &fakeReplier{out: "never"}
	p := New(bursts, &fakeQueue{}, &fakeTranscripts{}, rep, &fakePusher{}, zerolog.Nop())

	if err := p.Process(context.Background(), ticket()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rep.calls != 0 {
		t.Error("replier called for whitespace-only burst")
	}
	if bursts.cleared != 1 {
		t.Error("whitespace burst was not cleared")
	}
}

func TestProcessReplierFailureClearsAndNotifies(t *testing.T) {
	bursts := &fakeBursts{msgs: msgsAt("Hi")}
	rep := &fakeReplier{err: errors.New("model overloaded")}
	push := &fakePusher{}
	p := New(bursts, &fakeQueue{}, &fakeTranscripts{}, rep, push, zerolog.Nop())

	err := p.Process(context.Background(), ticket())
	if err == nil {
		t.Fatal("Process succeeded despite replier failure")
	}
	if bursts.cleared != 1 {
		t.Error("buffer not cleared on failure; conversation would be stuck")
	}
	var sawError bool
	for _, pl := range push.payloads {
		if pl.Type == delivery.TypeError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("no error payload pushed to the connection")
	}
}

func TestProcessPersistFailureClearsAndNotifies(t *testing.T) {
	bursts := &fakeBursts{msgs: msgsAt("Hi")}
	trans := &fakeTranscripts{burstErr: errors.New("db locked")}
	push := &fakePusher{}
	p := New(bursts, &fakeQueue{}, trans, &fakeReplier{out: "x"}, push, zerolog.Nop())

	if err := p.Process(context.Background(), ticket()); err == nil {
		t.Fatal("Process succeeded despite persist failure")
	}
	if bursts.cleared != 1 {
		t.Error("buffer not cleared on persist failure")
	}
}

func TestProcessHistoryFailureDegradesGracefully(t *testing.T) {
	bursts := &fakeBursts{msgs: msgsAt("Hi")}
	trans := &fakeTranscripts{historyErr: errors.New("db busy")}
	rep := &fakeReplier{out: "hello"}
	p := New(bursts, &fakeQueue{}, trans, rep, &fakePusher{}, zerolog.Nop())

	if err := p.Process(context.Background(), ticket()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rep.calls != 1 || rep.gotHistory != nil {
		t.Errorf("replier called %d times with history %v, want 1 call with nil history", rep.calls, rep.gotHistory)
	}
}

func TestProcessDefersWhileDeadlineAhead(t *testing.T) {
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	bursts := &fakeBursts{msgs: msgsAt("Hi", "are you open?"), deadline: now.Add(150 * time.Millisecond)}
	q := &fakeQueue{}
	rep := &fakeReplier{out: "never"}
	p := New(bursts, q, &fakeTranscripts{}, rep, &fakePusher{}, zerolog.Nop())
	p.now = func() time.Time { return now }

	if err := p.Process(context.Background(), ticket()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rep.calls != 0 || bursts.cleared != 0 {
		t.Error("burst drained before its deadline")
	}
	if len(q.delays) != 1 || q.delays[0] != 150*time.Millisecond {
		t.Fatalf("rescheduled delays = %v, want one of 150ms", q.delays)
	}

	// At the deadline the burst is due and drains normally.
	p.now = func() time.Time { return now.Add(150 * time.Millisecond) }
	if err := p.Process(context.Background(), ticket()); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if rep.calls != 1 || bursts.cleared != 1 {
		t.Errorf("due burst not processed: calls=%d cleared=%d", rep.calls, bursts.cleared)
	}
	if len(q.delays) != 1 {
		t.Errorf("due burst rescheduled again: %v", q.delays)
	}
}

func TestProcessDeferFailureProcessesEarly(t *testing.T) {
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	bursts := &fakeBursts{msgs: msgsAt("Hi"), deadline: now.Add(time.Second)}
	rep := &fakeReplier{out: "hello"}
	p := New(bursts, &fakeQueue{err: errors.New("redis down")}, &fakeTranscripts{}, rep, &fakePusher{}, zerolog.Nop())
	p.now = func() time.Time { return now }

	// The ticket is acked regardless, so an undeferred burst drains now
	// instead of being lost.
	if err := p.Process(context.Background(), ticket()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rep.calls != 1 || bursts.cleared != 1 {
		t.Errorf("calls=%d cleared=%d, want the burst processed early", rep.calls, bursts.cleared)
	}
}

// memKV backs a real buffer.Store so the extension path runs against the
// actual key layout instead of a canned deadline.
type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func TestProcessFollowsExtendedDeadline(t *testing.T) {
	const window = 200 * time.Millisecond
	store := buffer.NewStore(&memKV{data: map[string]string{}}, window, time.Second, zerolog.Nop())
	ctx := context.Background()

	first, err := store.Append(ctx, "t1", "c1", "Hi", "")
	if err != nil {
		t.Fatalf("first Append: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	second, err := store.Append(ctx, "t1", "c1", "are you open?", "")
	if err != nil {
		t.Fatalf("second Append: %v", err)
	}

	q := &fakeQueue{}
	rep := &fakeReplier{out: "We open at nine."}
	p := New(store, q, &fakeTranscripts{}, rep, &fakePusher{}, zerolog.Nop())

	// The ticket fires at the first message's deadline; the second message
	// has already pushed the stored deadline past it.
	p.now = func() time.Time { return first.ProcessAt }
	if err := p.Process(ctx, ticket()); err != nil {
		t.Fatalf("Process at original deadline: %v", err)
	}
	if rep.calls != 0 {
		t.Fatal("burst processed before the extended deadline")
	}
	want := second.ProcessAt.Sub(first.ProcessAt)
	if len(q.delays) != 1 || q.delays[0] != want {
		t.Fatalf("rescheduled delays = %v, want one of %v", q.delays, want)
	}

	p.now = func() time.Time { return second.ProcessAt }
	if err := p.Process(ctx, ticket()); err != nil {
		t.Fatalf("Process at extended deadline: %v", err)
	}
	if rep.calls != 1 || rep.gotPrompt != "Hi\n\nare you open?" {
		t.Errorf("replier calls=%d prompt=%q, want the whole burst once", rep.calls, rep.gotPrompt)
	}
	if got := store.Read(ctx, "t1", "c1"); got != nil {
		t.Errorf("burst survived processing: %v", got)
	}
}

func TestProcessDuplicateTicketSecondRunIsNoop(t *testing.T) {
	bursts := &fakeBursts{msgs: msgsAt("Hi")}
	rep := &fakeReplier{out: "hello"}
	p := New(bursts, &fakeQueue{}, &fakeTranscripts{}, rep, &fakePusher{}, zerolog.Nop())

	if err := p.Process(context.Background(), ticket()); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if err := p.Process(context.Background(), ticket()); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if rep.calls != 1 {
		t.Errorf("replier called %d times across duplicate tickets, want 1", rep.calls)
	}
}
