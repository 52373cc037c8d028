// Package session owns the single live crisis session of a client instance.
// Every mutation goes through Store; consumers observe it through snapshots.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/persistence"
	"github.com/yoockh/crisishelp/internal/prefs"
	"github.com/yoockh/crisishelp/internal/transcript"
	"github.com/yoockh/crisishelp/internal/utils"
)

// transitions lists the statuses SetStatus may move to from each status.
// idle and ended only leave through StartSession or ResetSession.
var transitions = map[models.Status][]models.Status{
	models.StatusIdle:         {},
	models.StatusConnecting:   {models.StatusActive, models.StatusError, models.StatusReconnecting, models.StatusEnded},
	models.StatusActive:       {models.StatusError, models.StatusReconnecting, models.StatusEnded},
	models.StatusReconnecting: {models.StatusActive, models.StatusConnecting, models.StatusError, models.StatusEnded},
	models.StatusError:        {models.StatusReconnecting, models.StatusConnecting, models.StatusEnded},
	models.StatusEnded:        {},
}

func canTransition(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// State is a point-in-time copy of the session.
type State struct {
	Status            models.Status            `json:"status"`
	SessionID         string                   `json:"session_id"`
	UserID            string                   `json:"user_id,omitempty"`
	StartTime         *time.Time               `json:"start_time,omitempty"`
	EndTime           *time.Time               `json:"end_time,omitempty"`
	DurationSeconds   int64                    `json:"duration_seconds"`
	Incognito         bool                     `json:"incognito_mode"`
	AutoCallEmergency bool                     `json:"auto_call_emergency"`
	ConnectionQuality models.ConnectionQuality `json:"connection_quality"`
	DeviceType        models.DeviceType        `json:"device_type"`
	ToolsActive       []models.ToolName        `json:"tools_active"`
	EmergencyContact  *models.EmergencyContact `json:"emergency_contact,omitempty"`

	ReconnectionAttempts int               `json:"reconnection_attempts"`
	ToolsTriggered       []models.ToolName `json:"tools_triggered"`
	EmergencyAlerts      int               `json:"emergency_alerts"`
	TranscriptEntries    int               `json:"transcript_entries"`

	seq uint64
}

func (s State) IsToolActive(name models.ToolName) bool {
	for _, n := range s.ToolsActive {
		if n == name {
			return true
		}
	}
	return false
}

type Options struct {
	Prefs      *prefs.Store
	Sink       persistence.Sink
	Transcript *transcript.Log
	Logger     *logrus.Logger
	DeviceType models.DeviceType
	Now        func() time.Time
}

type Store struct {
	mu sync.Mutex

	status     models.Status
	sessionID  string
	userID     string // persisted id; hidden from State while incognito
	startTime  *time.Time
	endTime    *time.Time
	incognito  bool
	autoCall   bool
	quality    models.ConnectionQuality
	deviceType models.DeviceType
	contact    *models.EmergencyContact

	active     map[string]models.ToolName
	triggered  []models.ToolName
	alerts     int
	reconnects int

	transcript *transcript.Log
	prefs      *prefs.Store
	sink       persistence.Sink
	log        *logrus.Logger
	now        func() time.Time

	subs    map[int]func(State)
	nextSub int
	seq     uint64

	// notifyMu orders delivery; a snapshot older than the last one
	// delivered is dropped.
	notifyMu  sync.Mutex
	delivered uint64
}

// New loads persisted preferences and returns an idle store.
func New(ctx context.Context, opts Options) (*Store, error) {
	const op = "session.New"

	if opts.Prefs == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "prefs store is required", nil)
	}
	if opts.Sink == nil {
		opts.Sink = persistence.Nop{}
	}
	if opts.Transcript == nil {
		opts.Transcript = transcript.New()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DeviceType == "" {
		opts.DeviceType = models.DeviceDesktop
	}

	snap, err := opts.Prefs.Load(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to load preferences", err)
	}

	s := &Store{
		status:     models.StatusIdle,
		sessionID:  uuid.NewString(),
		userID:     snap.UserID,
		incognito:  snap.Incognito,
		autoCall:   snap.AutoCallEmergency,
		contact:    snap.EmergencyContact,
		quality:    models.QualityGood,
		deviceType: opts.DeviceType,
		active:     map[string]models.ToolName{},
		transcript: opts.Transcript,
		prefs:      opts.Prefs,
		sink:       opts.Sink,
		log:        opts.Logger,
		now:        opts.Now,
		subs:       map[int]func(State){},
	}

	s.mu.Lock()
	write := s.ensureUserIDLocked()
	s.mu.Unlock()
	s.flush(ctx, write)
	return s, nil
}

// Subscribe registers fn to receive a snapshot after every change and
// returns a function that removes it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Transcript() []models.TranscriptEntry { return s.transcript.Entries() }

func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Store) Status() models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Duration is whole seconds from start to end (or now while running).
func (s *Store) Duration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked()
}

// StartSession begins a fresh session from idle or ended. It is a no-op while
// a session is already connecting, active or reconnecting.
func (s *Store) StartSession(ctx context.Context) (State, error) {
	const op = "Session.Start"

	s.mu.Lock()
	switch s.status {
	case models.StatusConnecting, models.StatusActive, models.StatusReconnecting:
		st := s.snapshotLocked()
		s.mu.Unlock()
		return st, nil
	case models.StatusIdle, models.StatusEnded:
	default:
		cur := s.status
		s.mu.Unlock()
		return State{}, utils.E(utils.CodeConflict, op, fmt.Sprintf("cannot start a session from %s", cur), nil)
	}

	s.clearLocked()
	now := s.now().UTC()
	s.startTime = &now
	s.status = models.StatusConnecting

	var writes []func(context.Context) error
	if !s.incognito {
		if w := s.ensureUserIDLocked(); w != nil {
			writes = append(writes, w)
		}
		id := s.sessionID
		writes = append(writes, func(ctx context.Context) error { return s.prefs.SetLastSessionID(ctx, id) })
	}
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.flush(ctx, writes...)
	s.log.WithFields(logrus.Fields{"session_id": st.SessionID, "incognito": st.Incognito}).Info("session started")
	s.notify(st)
	return st, nil
}

// SetStatus moves along one edge of the transition graph. Moving to ended is
// the same as EndSession.
func (s *Store) SetStatus(ctx context.Context, next models.Status) error {
	const op = "Session.SetStatus"

	if next == models.StatusEnded {
		_, err := s.EndSession(ctx)
		return err
	}

	s.mu.Lock()
	cur := s.status
	if cur == next {
		s.mu.Unlock()
		return nil
	}
	if !canTransition(cur, next) {
		s.mu.Unlock()
		return utils.E(utils.CodeConflict, op, fmt.Sprintf("invalid transition %s -> %s", cur, next), nil)
	}
	s.status = next
	if next == models.StatusActive && s.startTime == nil {
		now := s.now().UTC()
		s.startTime = &now
	}
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"session_id": st.SessionID, "from": cur, "to": next}).Debug("session status")
	s.notify(st)
	return nil
}

// EndSession finalizes the session. Calling it again keeps the first end time.
func (s *Store) EndSession(ctx context.Context) (State, error) {
	const op = "Session.End"

	s.mu.Lock()
	switch s.status {
	case models.StatusIdle:
		s.mu.Unlock()
		return State{}, utils.E(utils.CodeConflict, op, "no session to end", nil)
	case models.StatusEnded:
		st := s.snapshotLocked()
		s.mu.Unlock()
		return st, nil
	}

	now := s.now().UTC()
	s.endTime = &now
	s.status = models.StatusEnded
	var summary *models.SessionLog
	if !s.incognito {
		summary = s.summaryLocked()
	}
	st := s.snapshotLocked()
	s.mu.Unlock()

	if summary != nil {
		if err := s.sink.SaveSession(ctx, summary); err != nil {
			s.log.WithError(err).WithField("session_id", summary.SessionID).Warn("save session failed")
		}
	}
	s.log.WithFields(logrus.Fields{"session_id": st.SessionID, "duration_seconds": st.DurationSeconds}).Info("session ended")
	s.notify(st)
	return st, nil
}

// ResetSession returns to idle with a fresh session id from any state.
func (s *Store) ResetSession(ctx context.Context) State {
	s.mu.Lock()
	s.clearLocked()
	s.status = models.StatusIdle
	var write func(context.Context) error
	if !s.incognito {
		write = s.ensureUserIDLocked()
	}
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.flush(ctx, write)
	s.notify(st)
	return st
}

// ClearData removes every persisted value, the user id included, and resets.
func (s *Store) ClearData(ctx context.Context) (State, error) {
	const op = "Session.ClearData"

	if err := s.prefs.Clear(ctx); err != nil {
		return State{}, utils.E(utils.CodeUnavailable, op, "failed to clear stored data", err)
	}

	s.mu.Lock()
	s.clearLocked()
	s.status = models.StatusIdle
	s.userID = ""
	s.incognito = false
	s.autoCall = false
	s.contact = nil
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(st)
	return st, nil
}

func (s *Store) SetIncognito(ctx context.Context, v bool) (State, error) {
	const op = "Session.SetIncognito"

	s.mu.Lock()
	s.incognito = v
	var write func(context.Context) error
	if !v {
		write = s.ensureUserIDLocked()
	}
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.flush(ctx, write)
	s.notify(st)
	if err := s.prefs.SetIncognito(ctx, v); err != nil {
		return st, utils.E(utils.CodeUnavailable, op, "failed to store preference", err)
	}
	return st, nil
}

func (s *Store) SetAutoCallEmergency(ctx context.Context, v bool) (State, error) {
	const op = "Session.SetAutoCallEmergency"

	s.mu.Lock()
	s.autoCall = v
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(st)
	if err := s.prefs.SetAutoCallEmergency(ctx, v); err != nil {
		return st, utils.E(utils.CodeUnavailable, op, "failed to store preference", err)
	}
	return st, nil
}

// SetEmergencyContact stores c, or clears the contact when c is nil.
func (s *Store) SetEmergencyContact(ctx context.Context, c *models.EmergencyContact) (State, error) {
	const op = "Session.SetEmergencyContact"

	if c != nil && c.Phone == "" {
		return State{}, utils.E(utils.CodeInvalidArgument, op, "contact phone is required", nil)
	}

	s.mu.Lock()
	if c != nil {
		cp := *c
		s.contact = &cp
	} else {
		s.contact = nil
	}
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(st)
	if err := s.prefs.SetEmergencyContact(ctx, c); err != nil {
		return st, utils.E(utils.CodeUnavailable, op, "failed to store preference", err)
	}
	return st, nil
}

func (s *Store) SetConnectionQuality(q models.ConnectionQuality) {
	s.mutate(func() bool {
		if s.quality == q {
			return false
		}
		s.quality = q
		return true
	})
}

func (s *Store) SetDeviceType(t models.DeviceType) {
	s.mutate(func() bool {
		if s.deviceType == t {
			return false
		}
		s.deviceType = t
		return true
	})
}

// NoteReconnectAttempt counts one reconnection attempt for the summary.
func (s *Store) NoteReconnectAttempt() int {
	var n int
	s.mutate(func() bool {
		s.reconnects++
		n = s.reconnects
		return true
	})
	return n
}

// ActivateTool highlights name and returns the invocation id that
// DeactivateTool needs. Overlapping invocations of one tool are tracked
// separately.
func (s *Store) ActivateTool(name models.ToolName) string {
	id := uuid.NewString()
	s.mutate(func() bool {
		s.active[id] = name
		return true
	})
	return id
}

// DeactivateTool removes one invocation. Ids from before a reset are ignored.
func (s *Store) DeactivateTool(id string) {
	s.mutate(func() bool {
		if _, ok := s.active[id]; !ok {
			return false
		}
		delete(s.active, id)
		return true
	})
}

func (s *Store) RecordToolTriggered(name models.ToolName) {
	s.mutate(func() bool {
		if name == models.ToolAlertEmergencyServices {
			s.alerts++
		}
		for _, n := range s.triggered {
			if n == name {
				return name == models.ToolAlertEmergencyServices
			}
		}
		s.triggered = append(s.triggered, name)
		return true
	})
}

// AppendTranscript adds an entry and, outside incognito, forwards it to the
// sink. Outside connecting, active and reconnecting nothing is recorded and
// the zero entry is returned.
func (s *Store) AppendTranscript(ctx context.Context, speaker models.Speaker, text string) models.TranscriptEntry {
	s.mu.Lock()
	if !isLive(s.status) {
		status := s.status
		s.mu.Unlock()
		s.log.WithFields(logrus.Fields{"status": status, "speaker": speaker}).Debug("transcript entry dropped")
		return models.TranscriptEntry{}
	}
	e := s.transcript.Append(speaker, text)
	incognito := s.incognito
	sessionID := s.sessionID
	st := s.snapshotLocked()
	s.mu.Unlock()

	if !incognito {
		rec := &models.TranscriptRecord{
			ID:        e.ID,
			SessionID: sessionID,
			Speaker:   e.Speaker,
			Text:      e.Text,
			Timestamp: e.Timestamp,
		}
		if err := s.sink.AddTranscriptEntry(ctx, rec); err != nil {
			s.log.WithError(err).WithField("session_id", sessionID).Warn("transcript write failed")
		}
	}
	s.notify(st)
	return e
}

func isLive(st models.Status) bool {
	switch st {
	case models.StatusConnecting, models.StatusActive, models.StatusReconnecting:
		return true
	}
	return false
}

// LogToolCall forwards inv to the sink under the live session id, unless
// incognito.
func (s *Store) LogToolCall(ctx context.Context, inv models.ToolInvocation) {
	s.mu.Lock()
	incognito := s.incognito
	sessionID := s.sessionID
	s.mu.Unlock()
	if incognito {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"args":   inv.Args,
		"result": inv.Result,
	})
	if err != nil {
		s.log.WithError(err).WithField("tool", inv.ToolName).Warn("tool payload encode failed")
		return
	}
	ts := inv.Timestamp
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	rec := &models.ToolLog{
		ID:        fmt.Sprintf("tool-%d-%s", ts.UnixMilli(), randSuffix()),
		SessionID: sessionID,
		ToolName:  inv.ToolName,
		Payload:   datatypes.JSON(payload),
		Timestamp: ts,
	}
	if err := s.sink.LogToolCall(ctx, rec); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"session_id": sessionID, "tool": inv.ToolName}).Warn("tool log write failed")
	}
}

func (s *Store) mutate(fn func() bool) {
	s.mu.Lock()
	changed := fn()
	st := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.notify(st)
	}
}

func (s *Store) notify(st State) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if st.seq <= s.delivered {
		return
	}
	s.delivered = st.seq

	s.mu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// flush runs deferred preference writes; failures are logged only.
func (s *Store) flush(ctx context.Context, writes ...func(context.Context) error) {
	for _, w := range writes {
		if w == nil {
			continue
		}
		if err := w(ctx); err != nil {
			s.log.WithError(err).Warn("preference write failed")
		}
	}
}

func (s *Store) ensureUserIDLocked() func(context.Context) error {
	if s.incognito || s.userID != "" {
		return nil
	}
	id := uuid.NewString()
	s.userID = id
	return func(ctx context.Context) error { return s.prefs.SetUserID(ctx, id) }
}

func (s *Store) clearLocked() {
	s.sessionID = uuid.NewString()
	s.startTime = nil
	s.endTime = nil
	s.active = map[string]models.ToolName{}
	s.triggered = nil
	s.alerts = 0
	s.reconnects = 0
	s.quality = models.QualityGood
	s.transcript.Reset()
}

func (s *Store) durationLocked() int64 {
	if s.startTime == nil {
		return 0
	}
	end := s.now()
	if s.endTime != nil {
		end = *s.endTime
	}
	d := int64(end.Sub(*s.startTime) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Store) snapshotLocked() State {
	s.seq++
	st := State{
		seq:                  s.seq,
		Status:               s.status,
		SessionID:            s.sessionID,
		StartTime:            copyTime(s.startTime),
		EndTime:              copyTime(s.endTime),
		DurationSeconds:      s.durationLocked(),
		Incognito:            s.incognito,
		AutoCallEmergency:    s.autoCall,
		ConnectionQuality:    s.quality,
		DeviceType:           s.deviceType,
		ReconnectionAttempts: s.reconnects,
		EmergencyAlerts:      s.alerts,
		TranscriptEntries:    s.transcript.Len(),
		ToolsTriggered:       append([]models.ToolName(nil), s.triggered...),
	}
	if !s.incognito {
		st.UserID = s.userID
	}
	if s.contact != nil {
		c := *s.contact
		st.EmergencyContact = &c
	}

	seen := map[models.ToolName]bool{}
	for _, n := range s.active {
		if !seen[n] {
			seen[n] = true
			st.ToolsActive = append(st.ToolsActive, n)
		}
	}
	sort.Slice(st.ToolsActive, func(i, j int) bool { return st.ToolsActive[i] < st.ToolsActive[j] })
	return st
}

func (s *Store) summaryLocked() *models.SessionLog {
	userWords, aiWords := s.transcript.WordCounts()
	tools := make(pq.StringArray, 0, len(s.triggered))
	for _, n := range s.triggered {
		tools = append(tools, string(n))
	}
	var start time.Time
	if s.startTime != nil {
		start = *s.startTime
	}
	return &models.SessionLog{
		SessionID:            s.sessionID,
		UserID:               s.userID,
		StartTime:            start,
		EndTime:              copyTime(s.endTime),
		DurationSeconds:      s.durationLocked(),
		IncognitoMode:        s.incognito,
		ConnectionQuality:    s.quality,
		DeviceType:           s.deviceType,
		ReconnectionAttempts: s.reconnects,
		ToolsTriggered:       tools,
		EmergencyAlerts:      s.alerts,
		TotalUserWords:       userWords,
		TotalAIWords:         aiWords,
		TranscriptEntries:    s.transcript.Len(),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func randSuffix() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 9)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
