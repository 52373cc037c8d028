package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yoockh/crisishelp/internal/cache"
	"github.com/yoockh/crisishelp/internal/location"
	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/prefs"
	"github.com/yoockh/crisishelp/internal/session"
)

type mockDialer struct {
	mu      sync.Mutex
	calls   []string
	sms     []string
	callErr error
	smsErr  error
}

func (m *mockDialer) Call(_ context.Context, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, number)
	return m.callErr
}

func (m *mockDialer) ComposeSMS(_ context.Context, number, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sms = append(m.sms, number+"|"+body)
	return m.smsErr
}

type mockLocator struct {
	loc models.Location
	err error
}

func (m *mockLocator) Locate(context.Context) (models.Location, error) {
	return m.loc, m.err
}

type mockSink struct {
	mu    sync.Mutex
	tools []*models.ToolLog
}

func (m *mockSink) SaveSession(context.Context, *models.SessionLog) error              { return nil }
func (m *mockSink) AddTranscriptEntry(context.Context, *models.TranscriptRecord) error { return nil }
func (m *mockSink) LogToolCall(_ context.Context, l *models.ToolLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = append(m.tools, l)
	return nil
}

// manualTimers captures scheduled callbacks so tests decide when they fire.
type manualTimers struct {
	mu  sync.Mutex
	fns []func()
	ds  []time.Duration
}

func (m *manualTimers) schedule(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ds = append(m.ds, d)
	m.fns = append(m.fns, fn)
}

func (m *manualTimers) fire() {
	m.mu.Lock()
	fns := m.fns
	m.fns = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fixture struct {
	store  *session.Store
	sink   *mockSink
	dialer *mockDialer
	loc    *mockLocator
	timers *manualTimers
	d      *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sink:   &mockSink{},
		dialer: &mockDialer{},
		loc:    &mockLocator{loc: models.Location{Lat: 40.7128, Lng: -74.006}},
		timers: &manualTimers{},
	}
	st, err := session.New(context.Background(), session.Options{
		Prefs: prefs.New(cache.NewMemoryCache()),
		Sink:  f.sink,
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	f.store = st
	f.d = NewDispatcher(Options{
		Sessions: st,
		Dialer:   f.dialer,
		Locator:  f.loc,
		Schedule: f.timers.schedule,
	})
	if _, err := st.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return f
}

func TestAlertDialsDespiteEveryLocationFailure(t *testing.T) {
	reasons := []location.Reason{
		location.ReasonPermissionDenied,
		location.ReasonUnavailable,
		location.ReasonTimeout,
		location.ReasonUnknown,
	}
	for _, r := range reasons {
		t.Run(r.String(), func(t *testing.T) {
			f := newFixture(t)
			f.loc.err = &location.Error{Reason: r}

			res := f.d.AlertEmergencyServices(context.Background(), models.PriorityHigh, true, nil)
			if !res.Called {
				t.Fatal("expected called: true")
			}
			if !res.Success {
				t.Error("expected success when the call went out")
			}
			if res.Location != nil {
				t.Error("expected no location")
			}
			if len(f.dialer.calls) != 1 || f.dialer.calls[0] != "911" {
				t.Errorf("expected one 911 dial, got %v", f.dialer.calls)
			}
		})
	}
}

func TestAlertSharesLocationWithContact(t *testing.T) {
	f := newFixture(t)
	contact := &models.EmergencyContact{Name: "Jo", Phone: "5551234567"}

	res := f.d.AlertEmergencyServices(context.Background(), models.PriorityMedium, false, contact)
	if res.Called {
		t.Error("did not expect a call without consent")
	}
	if res.Location == nil || !res.SharedWithContact || !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.dialer.calls) != 0 {
		t.Errorf("expected no dial, got %v", f.dialer.calls)
	}
	if len(f.dialer.sms) != 1 {
		t.Fatalf("expected one sms, got %d", len(f.dialer.sms))
	}
	want := "5551234567|SOS! I am in a crisis and need help. My current location is: https://www.google.com/maps?q=40.7128,-74.006"
	if f.dialer.sms[0] != want {
		t.Errorf("expected %q, got %q", want, f.dialer.sms[0])
	}
}

func TestAlertWithoutAnythingReportsFailure(t *testing.T) {
	f := newFixture(t)
	f.loc.err = &location.Error{Reason: location.ReasonPermissionDenied}

	res := f.d.AlertEmergencyServices(context.Background(), models.PriorityHigh, false, &models.EmergencyContact{Phone: "1"})
	if res.Success || res.SharedWithContact || res.Called {
		t.Errorf("expected nothing delivered, got %+v", res)
	}
	if len(f.dialer.sms) != 0 {
		t.Error("sms must not be composed without a location")
	}
}

func TestAlertDialFailureStillSharesLocation(t *testing.T) {
	f := newFixture(t)
	f.dialer.callErr = errors.New("no telephony")

	res := f.d.AlertEmergencyServices(context.Background(), models.PriorityHigh, true, &models.EmergencyContact{Phone: "5550001111"})
	if res.Called {
		t.Error("expected called false when dial failed")
	}
	if !res.SharedWithContact || !res.Success {
		t.Errorf("expected location shared, got %+v", res)
	}
}

func TestDisplayWindowAndToolLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.d.AlertEmergencyServices(ctx, models.PriorityHigh, true, nil)
	if !f.store.Snapshot().IsToolActive(models.ToolAlertEmergencyServices) {
		t.Fatal("expected tool active during display window")
	}
	if len(f.timers.ds) != 1 || f.timers.ds[0] != 3*time.Second {
		t.Errorf("expected one 3s timer, got %v", f.timers.ds)
	}

	f.timers.fire()
	if f.store.Snapshot().IsToolActive(models.ToolAlertEmergencyServices) {
		t.Error("expected tool cleared after display window")
	}

	if len(f.sink.tools) != 1 {
		t.Fatalf("expected one tool log, got %d", len(f.sink.tools))
	}
	log := f.sink.tools[0]
	if log.ToolName != models.ToolAlertEmergencyServices || log.SessionID != f.store.SessionID() {
		t.Errorf("unexpected tool log %+v", log)
	}
	if !strings.HasPrefix(log.ID, "tool-") {
		t.Errorf("unexpected log id %q", log.ID)
	}
	var payload struct {
		Result models.AlertResult `json:"result"`
	}
	if err := json.Unmarshal(log.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !payload.Result.Called {
		t.Error("expected payload to carry the alert result")
	}
	if got := f.store.Snapshot().EmergencyAlerts; got != 1 {
		t.Errorf("expected 1 alert counted, got %d", got)
	}
}

func TestIncognitoSkipsToolLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.store.SetIncognito(ctx, true)

	f.d.ProvideLocalResource(ctx, models.ResourceMentalHealth)
	f.d.AlertEmergencyServices(ctx, models.PriorityHigh, true, nil)
	if len(f.sink.tools) != 0 {
		t.Errorf("expected no tool logs in incognito, got %d", len(f.sink.tools))
	}
}

func TestProvideLocalResource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.d.ProvideLocalResource(ctx, models.ResourceMentalHealth)
	if r == nil || r.Phone != "988" || r.Name != "National Suicide Prevention Lifeline" || r.Description != "24/7 crisis support" {
		t.Errorf("unexpected mental health resource %+v", r)
	}
	r = f.d.ProvideLocalResource(ctx, models.ResourcePoisonControl)
	if r == nil || r.Phone != "1-800-222-1222" {
		t.Errorf("unexpected poison control resource %+v", r)
	}
	if r := f.d.ProvideLocalResource(ctx, "astrology"); r != nil {
		t.Errorf("expected nil for unknown type, got %+v", r)
	}
}

func TestGetLocationFailureClearsImmediately(t *testing.T) {
	f := newFixture(t)
	f.loc.err = &location.Error{Reason: location.ReasonTimeout}

	_, err := f.d.GetLocation(context.Background())
	if location.ReasonOf(err) != location.ReasonTimeout {
		t.Fatalf("expected timeout reason, got %v", err)
	}
	if f.store.Snapshot().IsToolActive(models.ToolGetLocation) {
		t.Error("failed call should not stay highlighted")
	}
	if len(f.timers.fns) != 0 {
		t.Error("failed call should not schedule a clear")
	}
}

func TestSOSAlwaysDials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.store.SetEmergencyContact(ctx, &models.EmergencyContact{Name: "Kai", Phone: "5559998888"})

	res := f.d.SOS(ctx)
	if !res.Called || !res.SharedWithContact {
		t.Errorf("unexpected sos result %+v", res)
	}
	if len(f.dialer.calls) != 1 {
		t.Errorf("expected exactly one dial, got %v", f.dialer.calls)
	}
}

type flakyDialer struct {
	mockDialer
	fails int
}

func (f *flakyDialer) Call(ctx context.Context, number string) error {
	_ = f.mockDialer.Call(ctx, number)
	if f.fails > 0 {
		f.fails--
		return errors.New("busy")
	}
	return nil
}

func TestSOSRedialsWhenAlertDidNotCall(t *testing.T) {
	f := newFixture(t)
	dialer := &flakyDialer{fails: 1}
	f.d.dialer = dialer

	res := f.d.SOS(context.Background())
	if !res.Called || !res.Success {
		t.Errorf("expected fallback dial to succeed, got %+v", res)
	}
	if len(dialer.calls) != 2 {
		t.Errorf("expected two dial attempts, got %v", dialer.calls)
	}
}

func TestInvokeRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.store.SetAutoCallEmergency(ctx, true)

	out, err := f.d.Invoke(ctx, models.ToolAlertEmergencyServices, json.RawMessage(`{"priority":"high"}`))
	if err != nil {
		t.Fatalf("invoke alert: %v", err)
	}
	if res, ok := out.(models.AlertResult); !ok || !res.Called {
		t.Errorf("expected alert to dial with session consent, got %#v", out)
	}

	out, err = f.d.Invoke(ctx, models.ToolProvideLocalResource, json.RawMessage(`{"type":"poison_control"}`))
	if err != nil {
		t.Fatalf("invoke resource: %v", err)
	}
	if r, ok := out.(*models.EmergencyResource); !ok || r.Name != "Poison Control" {
		t.Errorf("unexpected resource %#v", out)
	}

	if _, err := f.d.Invoke(ctx, "launch_rockets", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
	if _, err := f.d.Invoke(ctx, models.ToolProvideLocalResource, json.RawMessage(`{`)); err == nil {
		t.Error("expected error for bad params")
	}
}

func TestInvokeAlertWithoutConsentDoesNotDial(t *testing.T) {
	f := newFixture(t)
	out, err := f.d.Invoke(context.Background(), models.ToolAlertEmergencyServices, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res := out.(models.AlertResult); res.Called {
		t.Error("expected no dial without auto-call consent")
	}
	if len(f.dialer.calls) != 0 {
		t.Errorf("expected no dials, got %v", f.dialer.calls)
	}
}
