package assignment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/listing-dispatch/internal/assignment"
	"github.com/bissquit/listing-dispatch/internal/assignment/memory"
	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/stretchr/testify/require"
)

const (
	agentA = "11111111-1111-1111-1111-111111111111"
	agentB = "22222222-2222-2222-2222-222222222222"
	agentC = "33333333-3333-3333-3333-333333333333"
)

// fakeScheduler records scheduled actions and runs them only when told to.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	d       time.Duration
	fn      func()
	done    bool
	stopped bool
}

func (s *fakeScheduler) After(d time.Duration, fn func()) assignment.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &fakeTimer{s: s, d: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	t.stopped = true
	return true
}

// fireNext runs the oldest armed action. It reports false when none is armed.
func (s *fakeScheduler) fireNext() bool {
	s.mu.Lock()
	var next *fakeTimer
	for _, t := range s.timers {
		if !t.done {
			next = t
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return false
	}
	next.done = true
	s.mu.Unlock()

	next.fn()
	return true
}

func (s *fakeScheduler) armed() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.done {
			out = append(out, t)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	offers []assignment.Offer
	err    error
}

func (n *recordingNotifier) SendOffer(_ context.Context, offer assignment.Offer) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.offers = append(n.offers, offer)
	return n.err
}

func (n *recordingNotifier) agents() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]string, 0, len(n.offers))
	for _, o := range n.offers {
		out = append(out, o.Agent.ID)
	}
	return out
}

func (n *recordingNotifier) last() assignment.Offer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.offers[len(n.offers)-1]
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []assignment.PoolAlert
}

func (a *recordingAlerter) AlertPool(_ context.Context, alert assignment.PoolAlert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

type harness struct {
	store    *memory.Store
	sched    *fakeScheduler
	clock    *fakeClock
	notifier *recordingNotifier
	alerter  *recordingAlerter
	svc      *assignment.Service
	cfg      assignment.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    memory.NewStore(),
		sched:    &fakeScheduler{},
		clock:    &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
		alerter:  &recordingAlerter{},
		cfg:      assignment.DefaultConfig(),
	}
	h.cfg.BaseURL = "https://dispatch.example.com/"

	h.svc = assignment.NewService(
		h.store, h.store, h.store, h.notifier, h.sched, h.cfg,
		assignment.WithAlerter(h.alerter),
		assignment.WithClock(h.clock.Now),
	)
	return h
}

func (h *harness) addAgent(id, name, zip, city, state string) {
	h.store.AddAgent(memory.AgentRecord{
		Agent:    domain.Agent{ID: id, Name: name, Email: name + "@agents.example.com"},
		ZipCode:  zip,
		City:     city,
		State:    state,
		Active:   true,
		Verified: true,
	})
}

func (h *harness) addProperty(zip, city, state string) string {
	return h.store.AddProperty(domain.Property{
		Title:   "2BR apartment",
		ZipCode: zip,
		City:    city,
		State:   state,
	})
}

func (h *harness) property(t *testing.T, id string) *domain.Property {
	t.Helper()
	p, err := h.store.GetProperty(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *harness) tracking(t *testing.T, propertyID string) *assignment.Tracking {
	t.Helper()
	tr, err := h.svc.GetTracking(context.Background(), propertyID)
	require.NoError(t, err)
	return tr
}

func (h *harness) pending(t *testing.T, propertyID string) *domain.Notification {
	t.Helper()

	var found *domain.Notification
	for _, n := range h.tracking(t, propertyID).Notifications {
		if n.Status == domain.NotificationStatusPending {
			require.Nil(t, found, "more than one pending offer")
			found = n
		}
	}
	require.NotNil(t, found, "no pending offer")
	return found
}
