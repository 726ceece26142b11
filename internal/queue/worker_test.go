package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// ----- Fake source -----

type fakeSource struct {
	mu      sync.Mutex
	pending []Ticket
	acked   []Ticket
	reaps   int

	claimErr error
}

func (f *fakeSource) push(t Ticket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, t)
}

func (f *fakeSource) Claim(context.Context) (*Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if len(f.pending) == 0 {
		return nil, nil
	}
	t := f.pending[0]
	f.pending = f.pending[1:]
	return &Lease{Ticket: t, raw: t.ID}, nil
}

func (f *fakeSource) Ack(_ context.Context, l *Lease) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, l.Ticket)
	return nil
}

func (f *fakeSource) Reap(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reaps++
	return 0, nil
}

func (f *fakeSource) ackedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked)
}

// ----- Tests -----

func TestTicketRoundTrip(t *testing.T) {
	in := NewTicket("t1", "c1")
	if in.ID == "" || in.EnqueuedAt.IsZero() {
		t.Fatalf("NewTicket missing fields: %+v", in)
	}
	raw, err := in.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeTicket(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TenantID != "t1" || out.ConversationID != "c1" || out.ID != in.ID {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestDecodeTicketRejectsGarbage(t *testing.T) {
	if _, err := decodeTicket("{nope"); err == nil {
		t.Fatal("decodeTicket accepted garbage")
	}
}

func TestWorkerExecutesAndAcks(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i < 5; i++ {
		src.push(NewTicket("t1", "c1"))
	}

	var mu sync.Mutex
	var handled []Ticket
	w := &Worker{
		Source: src,
		Handle: func(_ context.Context, tk Ticket) error {
			mu.Lock()
			handled = append(handled, tk)
			mu.Unlock()
			return nil
		},
		Concurrency:  3,
		JobTimeout:   time.Second,
		PollInterval: 5 * time.Millisecond,
		Log:          zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for src.ackedCount() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 5 {
		t.Errorf("handled %d tickets, want 5", len(handled))
	}
	if src.ackedCount() != 5 {
		t.Errorf("acked %d tickets, want 5", src.ackedCount())
	}
}

func TestWorkerAcksFailedJobs(t *testing.T) {
	src := &fakeSource{}
	src.push(NewTicket("t1", "c1"))

	w := &Worker{
		Source:       src,
		Handle:       func(context.Context, Ticket) error { return errors.New("generation failed") },
		Concurrency:  1,
		JobTimeout:   time.Second,
		PollInterval: 5 * time.Millisecond,
		Log:          zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for src.ackedCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	// A failed job is still acked: the processor already unstuck the
	// conversation, so replaying the ticket would only no-op.
	if src.ackedCount() != 1 {
		t.Errorf("acked %d, want 1", src.ackedCount())
	}
}

func TestWorkerEnforcesJobTimeout(t *testing.T) {
	src := &fakeSource{}
	src.push(NewTicket("t1", "c1"))

	timedOut := make(chan struct{})
	w := &Worker{
		Source: src,
		Handle: func(ctx context.Context, _ Ticket) error {
			<-ctx.Done()
			close(timedOut)
			return ctx.Err()
		},
		Concurrency:  1,
		JobTimeout:   20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Log:          zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Error("job timeout never fired")
	}
	cancel()
	<-done
}

func TestWorkerStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	w := &Worker{
		Source:       src,
		Handle:       func(context.Context, Ticket) error { return nil },
		Concurrency:  2,
		JobTimeout:   time.Second,
		PollInterval: 5 * time.Millisecond,
		Log:          zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
