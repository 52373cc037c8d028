package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yoockh/crisishelp/internal/cache"
	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/prefs"
	"github.com/yoockh/crisishelp/internal/utils"
)

type mockSink struct {
	mu          sync.Mutex
	sessions    []*models.SessionLog
	transcripts []*models.TranscriptRecord
	tools       []*models.ToolLog
	err         error
}

func (m *mockSink) SaveSession(_ context.Context, s *models.SessionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s)
	return m.err
}

func (m *mockSink) AddTranscriptEntry(_ context.Context, e *models.TranscriptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts = append(m.transcripts, e)
	return m.err
}

func (m *mockSink) LogToolCall(_ context.Context, l *models.ToolLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = append(m.tools, l)
	return m.err
}

func (m *mockSink) counts() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), len(m.transcripts), len(m.tools)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *mockSink, *clock, *prefs.Store) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	sink := &mockSink{}
	p := prefs.New(cache.NewMemoryCache())
	s, err := New(context.Background(), Options{Prefs: p, Sink: sink, Now: clk.now})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, sink, clk, p
}

func TestNewGeneratesPersistentUserID(t *testing.T) {
	s, _, _, p := newTestStore(t)
	st := s.Snapshot()
	if st.Status != models.StatusIdle {
		t.Fatalf("expected idle, got %s", st.Status)
	}
	if st.UserID == "" {
		t.Fatal("expected a user id")
	}
	snap, _ := p.Load(context.Background())
	if snap.UserID != st.UserID {
		t.Errorf("expected persisted user id %q, got %q", st.UserID, snap.UserID)
	}
	if st.AutoCallEmergency {
		t.Error("expected auto-call to default to false")
	}
}

func TestStartSessionFreshIDAndNoOpWhileLive(t *testing.T) {
	ctx := context.Background()
	s, _, _, p := newTestStore(t)
	before := s.SessionID()

	st, err := s.StartSession(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.Status != models.StatusConnecting {
		t.Fatalf("expected connecting, got %s", st.Status)
	}
	if st.SessionID == before {
		t.Error("expected a fresh session id")
	}
	if st.StartTime == nil {
		t.Error("expected start time on connecting")
	}
	snap, _ := p.Load(ctx)
	if snap.LastSessionID != st.SessionID {
		t.Errorf("expected last session id %q, got %q", st.SessionID, snap.LastSessionID)
	}

	again, err := s.StartSession(ctx)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if again.SessionID != st.SessionID || again.Status != models.StatusConnecting {
		t.Errorf("second start while connecting should be a no-op, got %+v", again)
	}

	if err := s.SetStatus(ctx, models.StatusActive); err != nil {
		t.Fatalf("set active: %v", err)
	}
	again, _ = s.StartSession(ctx)
	if again.SessionID != st.SessionID || again.Status != models.StatusActive {
		t.Errorf("start while active should be a no-op, got %+v", again)
	}
}

func TestTransitionGraph(t *testing.T) {
	tests := []struct {
		name  string
		setup []models.Status
		to    models.Status
		ok    bool
	}{
		{"idle to active", nil, models.StatusActive, false},
		{"idle to connecting", nil, models.StatusConnecting, false},
		{"connecting to active", []models.Status{}, models.StatusActive, true},
		{"connecting to error", []models.Status{}, models.StatusError, true},
		{"active to reconnecting", []models.Status{models.StatusActive}, models.StatusReconnecting, true},
		{"active to connecting", []models.Status{models.StatusActive}, models.StatusConnecting, false},
		{"reconnecting to active", []models.Status{models.StatusActive, models.StatusReconnecting}, models.StatusActive, true},
		{"error to reconnecting", []models.Status{models.StatusError}, models.StatusReconnecting, true},
		{"error to active", []models.Status{models.StatusError}, models.StatusActive, false},
		{"ended to active", []models.Status{models.StatusEnded}, models.StatusActive, false},
		{"ended to connecting", []models.Status{models.StatusEnded}, models.StatusConnecting, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, _, _, _ := newTestStore(t)
			if tt.setup != nil {
				if _, err := s.StartSession(ctx); err != nil {
					t.Fatalf("start: %v", err)
				}
				for _, st := range tt.setup {
					if err := s.SetStatus(ctx, st); err != nil {
						t.Fatalf("setup %s: %v", st, err)
					}
				}
			}
			before := s.Status()
			err := s.SetStatus(ctx, tt.to)
			if tt.ok {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				if s.Status() != tt.to {
					t.Errorf("expected %s, got %s", tt.to, s.Status())
				}
				return
			}
			if !utils.IsCode(err, utils.CodeConflict) {
				t.Fatalf("expected conflict, got %v", err)
			}
			if s.Status() != before {
				t.Errorf("status changed on rejected transition: %s -> %s", before, s.Status())
			}
		})
	}
}

func TestSameStatusIsNoOp(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestStore(t)
	if err := s.SetStatus(ctx, models.StatusIdle); err != nil {
		t.Errorf("expected idle -> idle to be a no-op, got %v", err)
	}
}

func TestEndSessionIdempotentAndDuration(t *testing.T) {
	ctx := context.Background()
	s, sink, clk, _ := newTestStore(t)

	if _, err := s.EndSession(ctx); !utils.IsCode(err, utils.CodeConflict) {
		t.Fatalf("expected conflict ending from idle, got %v", err)
	}

	_, _ = s.StartSession(ctx)
	_ = s.SetStatus(ctx, models.StatusActive)
	clk.advance(90*time.Second + 700*time.Millisecond)

	if d := s.Duration(); d != 90 {
		t.Errorf("expected running duration 90, got %d", d)
	}

	first, err := s.EndSession(ctx)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if first.Status != models.StatusEnded || first.EndTime == nil {
		t.Fatalf("expected ended with end time, got %+v", first)
	}

	clk.advance(time.Hour)
	second, err := s.EndSession(ctx)
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if !second.EndTime.Equal(*first.EndTime) {
		t.Errorf("expected end time kept, got %v vs %v", second.EndTime, first.EndTime)
	}
	if s.Duration() != 90 {
		t.Errorf("expected stable duration 90, got %d", s.Duration())
	}

	n, _, _ := sink.counts()
	if n != 1 {
		t.Errorf("expected one session summary, got %d", n)
	}
	if sink.sessions[0].DurationSeconds != 90 {
		t.Errorf("expected summary duration 90, got %d", sink.sessions[0].DurationSeconds)
	}
}

func TestDurationClampedWhenClockGoesBack(t *testing.T) {
	ctx := context.Background()
	s, _, clk, _ := newTestStore(t)
	_, _ = s.StartSession(ctx)
	clk.advance(-5 * time.Second)
	if d := s.Duration(); d != 0 {
		t.Errorf("expected 0, got %d", d)
	}
}

func TestSetStatusEndedRoutesThroughEnd(t *testing.T) {
	ctx := context.Background()
	s, sink, _, _ := newTestStore(t)
	_, _ = s.StartSession(ctx)
	if err := s.SetStatus(ctx, models.StatusEnded); err != nil {
		t.Fatalf("set ended: %v", err)
	}
	if st := s.Snapshot(); st.EndTime == nil {
		t.Error("expected end time")
	}
	if n, _, _ := sink.counts(); n != 1 {
		t.Errorf("expected one summary, got %d", n)
	}
}

func TestStartAfterEndedAndReset(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestStore(t)

	first, _ := s.StartSession(ctx)
	s.AppendTranscript(ctx, models.SpeakerUser, "hello")
	s.ActivateTool(models.ToolGetLocation)
	_, _ = s.EndSession(ctx)

	second, err := s.StartSession(ctx)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Error("expected new session id on restart")
	}
	if second.TranscriptEntries != 0 || len(second.ToolsActive) != 0 || second.EndTime != nil {
		t.Errorf("expected cleared session, got %+v", second)
	}
	if second.UserID != first.UserID {
		t.Errorf("expected user id preserved, got %q vs %q", second.UserID, first.UserID)
	}

	reset := s.ResetSession(ctx)
	if reset.Status != models.StatusIdle || reset.StartTime != nil {
		t.Errorf("expected idle reset, got %+v", reset)
	}
	if reset.SessionID == second.SessionID {
		t.Error("expected fresh id after reset")
	}
	if reset.UserID != first.UserID {
		t.Error("expected user id preserved across reset")
	}
}

func TestStartFromErrorRejected(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestStore(t)
	_, _ = s.StartSession(ctx)
	_ = s.SetStatus(ctx, models.StatusError)
	if _, err := s.StartSession(ctx); !utils.IsCode(err, utils.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestIncognitoSuppressesSink(t *testing.T) {
	ctx := context.Background()
	s, sink, _, _ := newTestStore(t)

	st, _ := s.SetIncognito(ctx, true)
	if st.UserID != "" {
		t.Errorf("expected empty user id in incognito, got %q", st.UserID)
	}

	_, _ = s.StartSession(ctx)
	s.AppendTranscript(ctx, models.SpeakerUser, "I don't feel safe")
	s.LogToolCall(ctx, models.ToolInvocation{ToolName: models.ToolGetLocation})
	_, _ = s.EndSession(ctx)

	if a, b, c := sink.counts(); a+b+c != 0 {
		t.Errorf("expected no sink calls in incognito, got %d/%d/%d", a, b, c)
	}

	st, _ = s.SetIncognito(ctx, false)
	if st.UserID == "" {
		t.Error("expected user id back after leaving incognito")
	}
	_, _ = s.StartSession(ctx)
	s.AppendTranscript(ctx, models.SpeakerAI, "I'm here")
	s.LogToolCall(ctx, models.ToolInvocation{ToolName: models.ToolGetLocation, Result: "x"})

	_, tr, tl := sink.counts()
	if tr != 1 || tl != 1 {
		t.Errorf("expected 1 transcript and 1 tool log, got %d/%d", tr, tl)
	}
	if sink.transcripts[0].SessionID != s.SessionID() {
		t.Error("expected transcript record keyed by live session id")
	}
	if sink.tools[0].SessionID != s.SessionID() {
		t.Error("expected tool log keyed by live session id")
	}
}

func TestSinkErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	s, sink, _, _ := newTestStore(t)
	sink.err = errors.New("db down")

	_, _ = s.StartSession(ctx)
	e := s.AppendTranscript(ctx, models.SpeakerUser, "still here")
	if e.Text != "still here" {
		t.Errorf("expected entry appended despite sink error")
	}
	if _, err := s.EndSession(ctx); err != nil {
		t.Errorf("expected sink failure to be swallowed, got %v", err)
	}
}

func TestActiveToolsKeyedByInvocation(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestStore(t)
	_, _ = s.StartSession(ctx)

	a := s.ActivateTool(models.ToolAlertEmergencyServices)
	b := s.ActivateTool(models.ToolAlertEmergencyServices)
	if !s.Snapshot().IsToolActive(models.ToolAlertEmergencyServices) {
		t.Fatal("expected tool active")
	}

	s.DeactivateTool(a)
	if !s.Snapshot().IsToolActive(models.ToolAlertEmergencyServices) {
		t.Error("second invocation should keep the tool highlighted")
	}
	s.DeactivateTool(b)
	if s.Snapshot().IsToolActive(models.ToolAlertEmergencyServices) {
		t.Error("expected tool cleared")
	}

	stale := s.ActivateTool(models.ToolGetLocation)
	s.ResetSession(ctx)
	_, _ = s.StartSession(ctx)
	fresh := s.ActivateTool(models.ToolGetLocation)
	s.DeactivateTool(stale)
	if !s.Snapshot().IsToolActive(models.ToolGetLocation) {
		t.Error("stale invocation id must not clear a new session's tool")
	}
	s.DeactivateTool(fresh)
}

func TestRecordToolTriggered(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	s.RecordToolTriggered(models.ToolAlertEmergencyServices)
	s.RecordToolTriggered(models.ToolProvideLocalResource)
	s.RecordToolTriggered(models.ToolAlertEmergencyServices)

	st := s.Snapshot()
	if len(st.ToolsTriggered) != 2 {
		t.Errorf("expected 2 distinct tools, got %v", st.ToolsTriggered)
	}
	if st.EmergencyAlerts != 2 {
		t.Errorf("expected 2 alerts, got %d", st.EmergencyAlerts)
	}
}

func TestPreferencesSurviveResetAndClearData(t *testing.T) {
	ctx := context.Background()
	s, _, _, p := newTestStore(t)

	_, _ = s.SetAutoCallEmergency(ctx, true)
	_, _ = s.SetEmergencyContact(ctx, &models.EmergencyContact{Name: "Ana", Phone: "5550001111"})
	if _, err := s.SetEmergencyContact(ctx, &models.EmergencyContact{Name: "x"}); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Errorf("expected invalid argument for missing phone, got %v", err)
	}

	st := s.ResetSession(ctx)
	if !st.AutoCallEmergency || st.EmergencyContact == nil {
		t.Errorf("expected preferences kept across reset, got %+v", st)
	}

	st, err := s.ClearData(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if st.UserID != "" || st.AutoCallEmergency || st.EmergencyContact != nil {
		t.Errorf("expected cleared state, got %+v", st)
	}
	snap, _ := p.Load(ctx)
	if snap.UserID != "" || snap.AutoCallEmergency {
		t.Errorf("expected cleared prefs, got %+v", snap)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestStore(t)

	var mu sync.Mutex
	var seen []models.Status
	unsub := s.Subscribe(func(st State) {
		mu.Lock()
		seen = append(seen, st.Status)
		mu.Unlock()
	})

	_, _ = s.StartSession(ctx)
	_ = s.SetStatus(ctx, models.StatusActive)
	unsub()
	_, _ = s.EndSession(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != models.StatusConnecting || seen[1] != models.StatusActive {
		t.Errorf("unexpected notifications %v", seen)
	}
}

func TestSummaryCarriesCounts(t *testing.T) {
	ctx := context.Background()
	s, sink, _, _ := newTestStore(t)
	_, _ = s.StartSession(ctx)
	_ = s.SetStatus(ctx, models.StatusActive)
	s.AppendTranscript(ctx, models.SpeakerUser, "I feel really overwhelmed")
	s.AppendTranscript(ctx, models.SpeakerAI, "Let's breathe together")
	s.RecordToolTriggered(models.ToolProvideLocalResource)
	s.NoteReconnectAttempt()
	s.SetConnectionQuality(models.QualityDegraded)
	_, _ = s.EndSession(ctx)

	sum := sink.sessions[0]
	if sum.TotalUserWords != 4 || sum.TotalAIWords != 3 || sum.TranscriptEntries != 2 {
		t.Errorf("unexpected word counts %+v", sum)
	}
	if sum.ReconnectionAttempts != 1 || sum.ConnectionQuality != models.QualityDegraded {
		t.Errorf("unexpected connection fields %+v", sum)
	}
	if len(sum.ToolsTriggered) != 1 || sum.ToolsTriggered[0] != string(models.ToolProvideLocalResource) {
		t.Errorf("unexpected tools %v", sum.ToolsTriggered)
	}
	if sum.UserID == "" {
		t.Error("expected user id on summary")
	}
}

func TestConcurrentAppendsDeliverLatestLast(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestStore(t)
	_, _ = s.StartSession(ctx)

	var mu sync.Mutex
	last, regressions := 0, 0
	s.Subscribe(func(st State) {
		mu.Lock()
		if st.TranscriptEntries < last {
			regressions++
		}
		last = st.TranscriptEntries
		mu.Unlock()
	})

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AppendTranscript(ctx, models.SpeakerUser, "hello")
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if regressions != 0 {
		t.Errorf("expected snapshots in order, got %d regressions", regressions)
	}
	if last != n {
		t.Errorf("expected last delivered count %d, got %d", n, last)
	}
}

func TestAppendOutsideLiveSessionIgnored(t *testing.T) {
	ctx := context.Background()
	s, sink, _, _ := newTestStore(t)

	if e := s.AppendTranscript(ctx, models.SpeakerAI, "too early"); e.ID != "" {
		t.Errorf("expected no entry while idle, got %+v", e)
	}

	_, _ = s.StartSession(ctx)
	s.AppendTranscript(ctx, models.SpeakerUser, "hello")
	_, _ = s.EndSession(ctx)
	s.AppendTranscript(ctx, models.SpeakerAI, "late reply")

	if got := len(s.Transcript()); got != 1 {
		t.Errorf("expected 1 transcript entry after end, got %d", got)
	}
	if _, tr, _ := sink.counts(); tr != 1 {
		t.Errorf("expected 1 persisted entry, got %d", tr)
	}
	if st := s.Snapshot(); st.TranscriptEntries != 1 {
		t.Errorf("expected ended snapshot to keep 1 entry, got %d", st.TranscriptEntries)
	}
}
