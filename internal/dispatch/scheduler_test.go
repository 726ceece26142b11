package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/averlon/go-convo-backend/internal/buffer"
	"github.com/averlon/go-convo-backend/internal/delivery"
	"github.com/averlon/go-convo-backend/internal/queue"
)

// ----- Fakes -----

type fakeBuffer struct {
	results []buffer.AppendResult
	err     error
	calls   int
}

func (f *fakeBuffer) Append(context.Context, string, string, string, string) (buffer.AppendResult, error) {
	if f.err != nil {
		return buffer.AppendResult{}, f.err
	}
	res := f.results[f.calls]
	f.calls++
	return res, nil
}

type fakeQueue struct {
	tickets []queue.Ticket
	delays  []time.Duration
	err     error
}

func (f *fakeQueue) Schedule(_ context.Context, t queue.Ticket, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.tickets = append(f.tickets, t)
	f.delays = append(f.delays, delay)
	return nil
}

type fakePusher struct {
	payloads []delivery.Payload
	err      error
}

func (f *fakePusher) Publish(_ context.Context, _, _ string, p delivery.Payload) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.payloads = append(f.payloads, p)
	return true, nil
}

func newScheduler(b Buffer, q Queue, p Pusher) *Scheduler {
	return NewScheduler(b, q, p, zerolog.Nop())
}

// ----- Tests -----

func TestFirstMessageSchedulesOneTicket(t *testing.T) {
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	fb := &fakeBuffer{results: []buffer.AppendResult{
		{IsFirst: true, ProcessAt: now.Add(2 * time.Second), Count: 1},
	}}
	fq := &fakeQueue{}
	fp := &fakePusher{}
	s := newScheduler(fb, fq, fp)
	s.now = func() time.Time { return now }

	acc, err := s.OnUserMessage(context.Background(), "t1", "c1", "Hi", "u1")
	if err != nil {
		t.Fatalf("OnUserMessage: %v", err)
	}
	if acc.MessageCount != 1 || !acc.ProcessAt.Equal(now.Add(2*time.Second)) {
		t.Errorf("Accepted = %+v", acc)
	}
	if len(fq.tickets) != 1 {
		t.Fatalf("scheduled %d tickets, want 1", len(fq.tickets))
	}
	if fq.tickets[0].TenantID != "t1" || fq.tickets[0].ConversationID != "c1" {
		t.Errorf("ticket = %+v", fq.tickets[0])
	}
	if fq.delays[0] != 2*time.Second {
		t.Errorf("delay = %v, want 2s", fq.delays[0])
	}

	// typing first, then the user echo.
	if len(fp.payloads) != 2 {
		t.Fatalf("pushed %d payloads, want 2", len(fp.payloads))
	}
	if fp.payloads[0].Type != delivery.TypeTyping {
		t.Errorf("first push = %+v, want typing", fp.payloads[0])
	}
	if fp.payloads[1].Type != delivery.TypeMessage || fp.payloads[1].Role != "user" || fp.payloads[1].Content != "Hi" {
		t.Errorf("second push = %+v, want user echo", fp.payloads[1])
	}
}

func TestFollowUpMessagesDoNotSchedule(t *testing.T) {
	now := time.Now()
	fb := &fakeBuffer{results: []buffer.AppendResult{
		{IsFirst: true, ProcessAt: now.Add(2 * time.Second), Count: 1},
		{IsFirst: false, ProcessAt: now.Add(3 * time.Second), Count: 2},
		{IsFirst: false, ProcessAt: now.Add(4 * time.Second), Count: 3},
	}}
	fq := &fakeQueue{}
	fp := &fakePusher{}
	s := newScheduler(fb, fq, fp)

	ctx := context.Background()
	for _, text := range []string{"Hi", "are you open?", "today?"} {
		if _, err := s.OnUserMessage(ctx, "t1", "c1", text, ""); err != nil {
			t.Fatalf("OnUserMessage(%q): %v", text, err)
		}
	}

	if len(fq.tickets) != 1 {
		t.Errorf("scheduled %d tickets for 3 rapid messages, want 1", len(fq.tickets))
	}
	// One typing + three echoes.
	var typings, echoes int
	for _, p := range fp.payloads {
		switch {
		case p.Type == delivery.TypeTyping:
			typings++
		case p.Type == delivery.TypeMessage && p.Role == "user":
			echoes++
		}
	}
	if typings != 1 || echoes != 3 {
		t.Errorf("typings=%d echoes=%d, want 1 and 3", typings, echoes)
	}
}

func TestPastDeadlineClampsDelayToZero(t *testing.T) {
	now := time.Now()
	fb := &fakeBuffer{results: []buffer.AppendResult{
		{IsFirst: true, ProcessAt: now.Add(-time.Second), Count: 1},
	}}
	fq := &fakeQueue{}
	s := newScheduler(fb, fq, &fakePusher{})
	s.now = func() time.Time { return now }

	if _, err := s.OnUserMessage(context.Background(), "t1", "c1", "Hi", ""); err != nil {
		t.Fatalf("OnUserMessage: %v", err)
	}
	if fq.delays[0] != 0 {
		t.Errorf("delay = %v, want 0", fq.delays[0])
	}
}

func TestBufferErrorSurfacesAsStoreUnavailable(t *testing.T) {
	fb := &fakeBuffer{err: errors.New("connection refused")}
	fq := &fakeQueue{}
	s := newScheduler(fb, fq, &fakePusher{})

	_, err := s.OnUserMessage(context.Background(), "t1", "c1", "Hi", "")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if len(fq.tickets) != 0 {
		t.Error("ticket scheduled despite buffer failure")
	}
}

func TestScheduleErrorSurfacesAsDispatchFailure(t *testing.T) {
	now := time.Now()
	fb := &fakeBuffer{results: []buffer.AppendResult{
		{IsFirst: true, ProcessAt: now.Add(time.Second), Count: 1},
	}}
	fq := &fakeQueue{err: errors.New("queue down")}
	s := newScheduler(fb, fq, &fakePusher{})

	_, err := s.OnUserMessage(context.Background(), "t1", "c1", "Hi", "")
	if !errors.Is(err, ErrDispatchFailure) {
		t.Fatalf("err = %v, want ErrDispatchFailure", err)
	}
}

func TestPushFailuresDoNotBlockAcceptance(t *testing.T) {
	now := time.Now()
	fb := &fakeBuffer{results: []buffer.AppendResult{
		{IsFirst: true, ProcessAt: now.Add(time.Second), Count: 1},
	}}
	fq := &fakeQueue{}
	fp := &fakePusher{err: errors.New("pubsub down")}
	s := newScheduler(fb, fq, fp)

	if _, err := s.OnUserMessage(context.Background(), "t1", "c1", "Hi", ""); err != nil {
		t.Fatalf("OnUserMessage: %v", err)
	}
	if len(fq.tickets) != 1 {
		t.Error("ticket not scheduled when interim pushes fail")
	}
}
