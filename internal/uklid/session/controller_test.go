package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/uklid/internal/uklid/eventlog"
	"github.com/bdobrica/uklid/internal/uklid/locale"
	"github.com/bdobrica/uklid/internal/uklid/nlp"
	"github.com/bdobrica/uklid/internal/uklid/resolver"
	"github.com/bdobrica/uklid/internal/uklid/session"
	"github.com/bdobrica/uklid/internal/uklid/store"
)

const (
	tenant = "T"
	worker = "+420777000111"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store *store.Store
	log   *eventlog.Log
	ctrl  *session.Controller
	clock *clock
	props map[string]store.Property
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	s, err := store.New(t.TempDir() + "/session.db")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store: s,
		clock: &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		props: make(map[string]store.Property),
	}
	for _, name := range names {
		p, err := s.UpsertProperty(context.Background(), tenant, name)
		if err != nil {
			t.Fatalf("UpsertProperty: %v", err)
		}
		f.props[name] = p
	}
	f.log = eventlog.New(s, nil)
	f.ctrl = session.NewController(s, f.log, resolver.New(s), session.Config{
		Now:     f.clock.Now,
		Catalog: locale.MustLoad(),
	})
	return f
}

func (f *fixture) events(t *testing.T, sessionID string) []store.Event {
	t.Helper()
	events, err := f.log.ListForSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ListForSession: %v", err)
	}
	return events
}

func en() context.Context {
	return locale.WithLanguage(context.Background(), "en")
}

func TestOpen_RoundTripWithSupplyOut(t *testing.T) {
	f := newFixture(t, "Apartmán 302", "Karlín 15")
	ctx := context.Background()

	opened, err := f.ctrl.Open(ctx, tenant, worker, "302")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.PropertyID != f.props["Apartmán 302"].ID || opened.PropertyName != "Apartmán 302" {
		t.Fatalf("Opened = %+v", opened)
	}

	appended, err := f.ctrl.AppendEvent(ctx, tenant, worker, nlp.ParsedIntent{
		Kind:       nlp.KindSupplyOut,
		Payload:    nlp.SupplyOut{Items: []string{"Domestos", "Jar"}},
		Confidence: 0.9,
		Text:       "Došel Domestos a Jar",
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if appended.SessionID != opened.SessionID {
		t.Errorf("event session = %s, want %s", appended.SessionID, opened.SessionID)
	}

	events := f.events(t, opened.SessionID)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != store.EventSessionStart || events[0].Note != "302" {
		t.Errorf("first event = %+v", events[0])
	}
	ev := events[1]
	if ev.ID != appended.EventID || ev.Type != store.EventSupplyOut || ev.PropertyID != opened.PropertyID {
		t.Errorf("supply event = %+v", ev)
	}
	if ev.Note != "Došel Domestos a Jar" {
		t.Errorf("Note = %q", ev.Note)
	}
	p, err := nlp.DecodePayload(nlp.KindSupplyOut, ev.Payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got := p.(nlp.SupplyOut).Items; !reflect.DeepEqual(got, []string{"Domestos", "Jar"}) {
		t.Errorf("Items = %q", got)
	}
}

func TestOpen_Conflict(t *testing.T) {
	f := newFixture(t, "Apartmán 302", "Apartmán 305")

	if _, err := f.ctrl.Open(en(), tenant, worker, "302"); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	_, err := f.ctrl.Open(en(), tenant, worker, "305")

	var conflict *session.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.CurrentProperty != "Apartmán 302" {
		t.Errorf("CurrentProperty = %q", conflict.CurrentProperty)
	}
	want := "You have an open session at Apartmán 302. Should I end it and continue here?"
	if conflict.Reply() != want {
		t.Errorf("Reply = %q, want %q", conflict.Reply(), want)
	}
	var r session.Replier
	if !errors.As(err, &r) {
		t.Error("ConflictError should implement Replier")
	}
}

func TestOpen_ConflictBeforeResolution(t *testing.T) {
	f := newFixture(t, "Apartmán 302")
	if _, err := f.ctrl.Open(context.Background(), tenant, worker, "302"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	// an unresolvable hint still reports the conflict first
	_, err := f.ctrl.Open(context.Background(), tenant, worker, "Vinohrady")
	var conflict *session.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestOpen_BlankHintAsksWhichProperty(t *testing.T) {
	calls := 0
	res := resolverFunc(func(context.Context, string, string) (store.Property, error) {
		calls++
		return store.Property{}, errors.New("should not be called")
	})
	f := newFixture(t)
	ctrl := session.NewController(f.store, f.log, res, session.Config{})

	for _, hint := range []string{"", "   "} {
		_, err := ctrl.Open(en(), tenant, worker, hint)
		var cl *session.ClarificationError
		if !errors.As(err, &cl) {
			t.Fatalf("Open(%q): expected ClarificationError, got %v", hint, err)
		}
		if cl.Reply() != "Which apartment are you at?" {
			t.Errorf("Reply = %q", cl.Reply())
		}
	}
	if calls != 0 {
		t.Errorf("resolver called %d times for a blank hint", calls)
	}
}

func TestOpen_Ambiguous(t *testing.T) {
	f := newFixture(t, "Nikolajka 302", "Letná 302")
	_, err := f.ctrl.Open(en(), tenant, worker, "302")

	var amb *resolver.AmbiguousError
	if !errors.As(err, &amb) {
		t.Fatalf("expected AmbiguousError, got %v", err)
	}
	if !reflect.DeepEqual(amb.Candidates, []string{"Letná 302", "Nikolajka 302"}) {
		t.Errorf("Candidates = %q", amb.Candidates)
	}
	var r session.Replier
	if !errors.As(err, &r) || r.Reply() != "Did you mean Letná 302, Nikolajka 302?" {
		t.Errorf("reply = %v", r)
	}
	if active, _ := f.ctrl.GetActiveSession(context.Background(), tenant, worker); active != nil {
		t.Errorf("ambiguous Open created a session: %+v", active)
	}
}

func TestOpen_NotFound(t *testing.T) {
	f := newFixture(t, "Letná 302")
	_, err := f.ctrl.Open(locale.WithLanguage(context.Background(), "cs"), tenant, worker, "Vinohrady")

	var nf *resolver.NotFoundError
	if !errors.As(err, &nf) || nf.Hint != "Vinohrady" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	var r session.Replier
	if !errors.As(err, &r) || r.Reply() != "Apartmán „Vinohrady“ jsem nenašla." {
		t.Errorf("reply = %q", r.Reply())
	}
}

func TestOpen_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, "Apartmán 302", "Apartmán 305")

	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		hint := "302"
		if i%2 == 1 {
			hint = "305"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.ctrl.Open(context.Background(), tenant, worker, hint)
			mu.Lock()
			defer mu.Unlock()
			var conflict *session.ConflictError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &conflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 || conflicts != n-1 {
		t.Fatalf("successes=%d conflicts=%d, want 1 and %d", successes, conflicts, n-1)
	}
	if n, _ := f.store.CountOpenSessions(context.Background()); n != 1 {
		t.Fatalf("open sessions = %d, want 1", n)
	}
}

// racingStore hides the open session from the pre-check so that the insert
// is rejected by the store, as when two Opens interleave.
type racingStore struct {
	*store.Store
	hidden bool
}

func (r *racingStore) GetOpenSession(ctx context.Context, tenantID, workerID string) (*store.Session, error) {
	if !r.hidden {
		r.hidden = true
		return nil, store.ErrNotFound
	}
	return r.Store.GetOpenSession(ctx, tenantID, workerID)
}

func TestOpen_StorageRejectionBecomesConflict(t *testing.T) {
	f := newFixture(t, "Apartmán 302", "Apartmán 305")
	if _, err := f.ctrl.Open(context.Background(), tenant, worker, "302"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctrl := session.NewController(&racingStore{Store: f.store}, f.log, resolver.New(f.store), session.Config{Now: f.clock.Now})
	_, err := ctrl.Open(en(), tenant, worker, "305")

	var conflict *session.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.CurrentProperty != "Apartmán 302" {
		t.Errorf("CurrentProperty = %q", conflict.CurrentProperty)
	}
}

func TestAppendEvent_NoActiveSession(t *testing.T) {
	f := newFixture(t, "Apartmán 302")
	_, err := f.ctrl.AppendEvent(en(), tenant, worker, nlp.ParsedIntent{Kind: nlp.KindNote, Payload: nlp.Note{Text: "x"}})

	var nas *session.NoActiveSessionError
	if !errors.As(err, &nas) {
		t.Fatalf("expected NoActiveSessionError, got %v", err)
	}
	if nas.Reply() != `Which apartment are you at? Say "starting cleaning at ...".` {
		t.Errorf("Reply = %q", nas.Reply())
	}
}

func TestAppendEvent_RejectsNonEventIntents(t *testing.T) {
	f := newFixture(t, "Apartmán 302")
	if _, err := f.ctrl.Open(context.Background(), tenant, worker, "302"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	cases := []nlp.ParsedIntent{
		{Kind: nlp.KindStartCleaning, Payload: nlp.StartCleaning{}},
		{Kind: "coffee"},
		{Kind: nlp.KindNote, Payload: nlp.SupplyOut{Items: []string{"x"}}},
	}
	for _, in := range cases {
		if _, err := f.ctrl.AppendEvent(context.Background(), tenant, worker, in); !errors.Is(err, session.ErrUnsupportedIntent) {
			t.Errorf("AppendEvent(%s): got %v, want ErrUnsupportedIntent", in.Kind, err)
		}
	}
}

func TestAppendEvent_InheritsSessionProperty(t *testing.T) {
	f := newFixture(t, "Apartmán 302", "Apartmán 305")
	opened, err := f.ctrl.Open(context.Background(), tenant, worker, "302")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = f.ctrl.AppendEvent(context.Background(), tenant, worker, nlp.ParsedIntent{
		Kind: nlp.KindLinenUsed, PropertyHint: "305", Payload: nlp.LinenUsed{Count: 4, Type: "towels"},
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	events := f.events(t, opened.SessionID)
	last := events[len(events)-1]
	if last.PropertyID != f.props["Apartmán 302"].ID {
		t.Errorf("event property = %s, want the session's property", last.PropertyID)
	}
	var lu nlp.LinenUsed
	if err := json.Unmarshal(last.Payload, &lu); err != nil || lu.Count != 4 {
		t.Errorf("payload = %s (%v)", last.Payload, err)
	}
}

func TestClose_NoActiveSession(t *testing.T) {
	f := newFixture(t, "Apartmán 302")
	_, err := f.ctrl.Close(en(), tenant, worker, store.CloseDone)

	var nas *session.NoActiveSessionError
	if !errors.As(err, &nas) {
		t.Fatalf("expected NoActiveSessionError, got %v", err)
	}
	if nas.Reply() != "Which property are you ending?" {
		t.Errorf("Reply = %q", nas.Reply())
	}
}

func TestClose_DoneEmitsDoneEvent(t *testing.T) {
	f := newFixture(t, "Apartmán 302")
	opened, err := f.ctrl.Open(context.Background(), tenant, worker, "302")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.clock.Advance(2 * time.Hour)

	closed, err := f.ctrl.Close(context.Background(), tenant, worker, store.CloseDone)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.SessionID != opened.SessionID || closed.PropertyName != "Apartmán 302" {
		t.Errorf("Closed = %+v", closed)
	}

	sess, err := f.store.GetSession(context.Background(), opened.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != store.StatusClosed || sess.CloseReason != store.CloseDone {
		t.Errorf("session = %+v", sess)
	}
	if sess.EndedAt == nil || !sess.EndedAt.Equal(f.clock.Now()) {
		t.Errorf("EndedAt = %v, want %v", sess.EndedAt, f.clock.Now())
	}

	events := f.events(t, opened.SessionID)
	if len(events) != 2 || events[1].Type != store.EventDone {
		t.Fatalf("events = %+v", events)
	}
	if active, _ := f.ctrl.GetActiveSession(context.Background(), tenant, worker); active != nil {
		t.Errorf("session still active: %+v", active)
	}
}

func TestClose_ManualAndTimeoutEmitNoEvent(t *testing.T) {
	for _, reason := range []string{store.CloseManual, store.CloseTimeout} {
		f := newFixture(t, "Apartmán 302")
		opened, err := f.ctrl.Open(context.Background(), tenant, worker, "302")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if _, err := f.ctrl.Close(context.Background(), tenant, worker, reason); err != nil {
			t.Fatalf("Close(%s): %v", reason, err)
		}
		events := f.events(t, opened.SessionID)
		if len(events) != 1 || events[0].Type != store.EventSessionStart {
			t.Errorf("%s: events = %+v", reason, events)
		}
	}
}

func TestClose_InvalidReason(t *testing.T) {
	f := newFixture(t, "Apartmán 302")
	if _, err := f.ctrl.Close(context.Background(), tenant, worker, "bored"); !errors.Is(err, session.ErrInvalidCloseReason) {
		t.Fatalf("got %v, want ErrInvalidCloseReason", err)
	}
}

func TestAutoCloseExpiredSessions(t *testing.T) {
	f := newFixture(t, "Apartmán 302", "Apartmán 305")
	ctx := context.Background()

	expired, err := f.ctrl.Open(ctx, tenant, worker, "302")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.clock.Advance(3 * time.Hour)
	if _, err := f.ctrl.Open(ctx, tenant, "+420777000222", "305"); err != nil {
		t.Fatalf("Open second worker: %v", err)
	}
	f.clock.Advance(90 * time.Minute)

	n, err := f.ctrl.AutoCloseExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("AutoCloseExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed %d, want 1", n)
	}
	if active, _ := f.ctrl.GetActiveSession(ctx, tenant, worker); active != nil {
		t.Errorf("expired session still active: %+v", active)
	}
	sess, _ := f.store.GetSession(ctx, expired.SessionID)
	if sess.CloseReason != store.CloseTimeout {
		t.Errorf("CloseReason = %q, want timeout", sess.CloseReason)
	}
	if events := f.events(t, expired.SessionID); len(events) != 1 {
		t.Errorf("timeout must not emit events, got %+v", events)
	}

	n, err = f.ctrl.AutoCloseExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep closed %d, want 0", n)
	}
	if active, _ := f.ctrl.GetActiveSession(ctx, tenant, "+420777000222"); active == nil {
		t.Error("unexpired session was closed")
	}
}

func TestGetActiveSession(t *testing.T) {
	f := newFixture(t, "Apartmán 302")
	ctx := context.Background()

	active, err := f.ctrl.GetActiveSession(ctx, tenant, worker)
	if err != nil || active != nil {
		t.Fatalf("GetActiveSession with none = %+v, %v", active, err)
	}
	opened, err := f.ctrl.Open(ctx, tenant, worker, "302")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	active, err = f.ctrl.GetActiveSession(ctx, tenant, worker)
	if err != nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	if active.SessionID != opened.SessionID || active.PropertyID != opened.PropertyID {
		t.Errorf("active = %+v", active)
	}
	if got := active.ExpectedEndAt.Sub(active.StartedAt); got != session.DefaultTTL {
		t.Errorf("TTL = %v, want %v", got, session.DefaultTTL)
	}
	if other, _ := f.ctrl.GetActiveSession(ctx, "U", worker); other != nil {
		t.Errorf("session visible in another tenant: %+v", other)
	}
}

type resolverFunc func(ctx context.Context, tenantID, hint string) (store.Property, error)

func (f resolverFunc) Resolve(ctx context.Context, tenantID, hint string) (store.Property, error) {
	return f(ctx, tenantID, hint)
}
