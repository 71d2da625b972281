package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/planmail/internal/source"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []GenerateRequest
	fn    func(req GenerateRequest, call int) (*Content, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (*Content, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	n := len(g.calls)
	fn := g.fn
	g.mu.Unlock()
	if fn != nil {
		return fn(req, n)
	}
	return &Content{Subject: "件名 " + req.Prompt, Body: "本文 " + req.Prompt}, nil
}

func (g *fakeGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []Message
	calls int
	fn    func(msg Message, call int) error
}

func (s *fakeSender) Send(ctx context.Context, msg Message) (string, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		if err := fn(msg, n); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	return fmt.Sprintf("msg-%d", n), nil
}

func (s *fakeSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.To)
	}
	return out
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []Alert
}

func (a *fakeAlerts) Notify(ctx context.Context, alert Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func (a *fakeAlerts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type fakeStop struct {
	stopped atomic.Bool
}

func (s *fakeStop) EmergencyStopped(ctx context.Context) bool {
	return s.stopped.Load()
}

type fakeThrottle struct {
	mu        sync.Mutex
	delay     time.Duration
	increment time.Duration
	increases int
}

func (t *fakeThrottle) Current(ctx context.Context) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

func (t *fakeThrottle) Increase(ctx context.Context) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.increases++
	t.delay += t.increment
	return t.delay, nil
}

type staticData struct {
	payload source.Payload
	err     error
	loads   int
}

func (d *staticData) Load(ctx context.Context, path string) (source.Payload, error) {
	d.loads++
	return d.payload, d.err
}
