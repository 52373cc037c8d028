// Package services coordinates the session, the voice conversation, the
// tool dispatcher and offline narration the way the app's screens use them.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/crisishelp/internal/conversation"
	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/narration"
	"github.com/yoockh/crisishelp/internal/session"
	"github.com/yoockh/crisishelp/internal/tools"
	"github.com/yoockh/crisishelp/internal/utils"
)

const (
	MsgConnectionLost     = "Connection lost. Reconnecting..."
	MsgReconnectionFailed = "Unable to reconnect. Please check your internet connection."
	MsgSessionTimeout     = "Session has ended due to inactivity."
	MsgSessionMaxDuration = "Session has reached its maximum length and has ended."
	MsgOffline            = "You're offline. Guided breathing and grounding are still available."
)

// Conversation is the voice connection as the service drives it.
type Conversation interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Messages() []conversation.DiagMessage
	ClearMessages()
	SetDisconnectHook(fn conversation.DisconnectFunc)
}

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warning"
	NoticeError NoticeLevel = "error"
)

// Notice is a user-facing message that is not part of the transcript.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

type CrisisOptions struct {
	Sessions     *session.Store
	Conversation Conversation
	Tools        *tools.Dispatcher
	Narration    *narration.Engine
	Guides       *narration.Player
	Logger       *logrus.Logger

	ReconnectAttempts  int
	ReconnectDelay     time.Duration
	MaxSessionDuration time.Duration
	IdleTimeout        time.Duration
	// WatchInterval is how often the session limits are checked.
	WatchInterval time.Duration
}

type CrisisService struct {
	sessions *session.Store
	convo    Conversation
	tools    *tools.Dispatcher
	engine   *narration.Engine
	guides   *narration.Player
	log      *logrus.Logger

	attempts    int
	delay       time.Duration
	maxDuration time.Duration
	idle        time.Duration
	interval    time.Duration

	mu           sync.Mutex
	watchCancel  context.CancelFunc
	reconnecting bool
	lastActivity time.Time
	lastEntries  int
	noticeSubs   map[int]func(Notice)
	nextSub      int
}

func NewCrisisService(opts CrisisOptions) *CrisisService {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 3
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = time.Second
	}
	if opts.Narration == nil {
		opts.Narration = narration.NewEngine(nil, opts.Logger)
	}
	if opts.Guides == nil {
		opts.Guides = narration.NewPlayer(opts.Narration, narration.PlayerOptions{Logger: opts.Logger})
	}

	s := &CrisisService{
		sessions:    opts.Sessions,
		convo:       opts.Conversation,
		tools:       opts.Tools,
		engine:      opts.Narration,
		guides:      opts.Guides,
		log:         opts.Logger,
		attempts:    opts.ReconnectAttempts,
		delay:       opts.ReconnectDelay,
		maxDuration: opts.MaxSessionDuration,
		idle:        opts.IdleTimeout,
		interval:    opts.WatchInterval,
		noticeSubs:  map[int]func(Notice){},
	}
	s.convo.SetDisconnectHook(s.handleDisconnect)
	s.sessions.Subscribe(s.trackActivity)
	return s
}

// OnNotice registers fn for user-facing notices and returns an unsubscribe
// func.
func (s *CrisisService) OnNotice(fn func(Notice)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.noticeSubs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.noticeSubs, id)
		s.mu.Unlock()
	}
}

func (s *CrisisService) notice(level NoticeLevel, msg string) {
	n := Notice{Level: level, Message: msg, At: time.Now().UTC()}
	s.mu.Lock()
	subs := make([]func(Notice), 0, len(s.noticeSubs))
	for _, fn := range s.noticeSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	s.log.WithField("level", level).Info(msg)
	for _, fn := range subs {
		fn(n)
	}
}

// Subscribe forwards session snapshots to fn; see session.Store.Subscribe.
func (s *CrisisService) Subscribe(fn func(session.State)) func() {
	return s.sessions.Subscribe(fn)
}

func (s *CrisisService) State() session.State                 { return s.sessions.Snapshot() }
func (s *CrisisService) Transcript() []models.TranscriptEntry { return s.sessions.Transcript() }
func (s *CrisisService) Messages() []conversation.DiagMessage { return s.convo.Messages() }

type StartOptions struct {
	AutoCallEmergency *bool
	Incognito         *bool
}

// Start records any consent choices, begins a session and connects to the
// counselor. A session that is already live is returned unchanged. A
// session left in error is reset first.
func (s *CrisisService) Start(ctx context.Context, opts StartOptions) (session.State, error) {
	const op = "CrisisService.Start"

	if opts.AutoCallEmergency != nil {
		if _, err := s.sessions.SetAutoCallEmergency(ctx, *opts.AutoCallEmergency); err != nil {
			return session.State{}, err
		}
	}
	if opts.Incognito != nil {
		if _, err := s.sessions.SetIncognito(ctx, *opts.Incognito); err != nil {
			return session.State{}, err
		}
	}

	before := s.sessions.Snapshot()
	switch before.Status {
	case models.StatusConnecting, models.StatusActive, models.StatusReconnecting:
		return before, nil
	case models.StatusError:
		s.sessions.ResetSession(ctx)
	}

	s.convo.ClearMessages()
	st, err := s.sessions.StartSession(ctx)
	if err != nil {
		return session.State{}, err
	}

	s.guides.Close()
	if err := s.convo.Connect(ctx); err != nil {
		s.log.WithError(err).WithField("session_id", st.SessionID).Warn("session could not connect")
		return s.sessions.Snapshot(), err
	}
	switch s.sessions.Status() {
	case models.StatusEnded:
		return s.sessions.Snapshot(), utils.E(utils.CodeUnavailable, op, "the counselor ended the session", nil)
	case models.StatusIdle:
		// reset while connecting
		return s.sessions.Snapshot(), nil
	}

	s.startWatch()
	return s.sessions.Snapshot(), nil
}

// End disconnects and finalizes the session.
func (s *CrisisService) End(ctx context.Context) (session.State, error) {
	s.stopWatch()
	if err := s.convo.Disconnect(ctx); err != nil {
		s.log.WithError(err).Warn("disconnect failed")
	}
	return s.sessions.EndSession(ctx)
}

// Shutdown tears the conversation down whatever state it is in and ends any
// session that has not already ended.
func (s *CrisisService) Shutdown(ctx context.Context) error {
	s.stopWatch()
	s.CancelNarration()
	if err := s.convo.Disconnect(ctx); err != nil {
		s.log.WithError(err).Warn("disconnect failed")
	}
	switch s.sessions.Status() {
	case models.StatusIdle, models.StatusEnded:
		return nil
	}
	_, err := s.sessions.EndSession(ctx)
	return err
}

// Reset drops the current session, connected or not, for a fresh idle one.
func (s *CrisisService) Reset(ctx context.Context) session.State {
	s.stopWatch()
	if err := s.convo.Disconnect(ctx); err != nil {
		s.log.WithError(err).Warn("disconnect failed")
	}
	return s.sessions.ResetSession(ctx)
}

// ClearData resets and removes every stored preference.
func (s *CrisisService) ClearData(ctx context.Context) (session.State, error) {
	s.Reset(ctx)
	return s.sessions.ClearData(ctx)
}

func (s *CrisisService) SOS(ctx context.Context) models.AlertResult {
	return s.tools.SOS(ctx)
}

func (s *CrisisService) Location(ctx context.Context) (*models.Location, error) {
	return s.tools.GetLocation(ctx)
}

func (s *CrisisService) Resource(ctx context.Context, t models.ResourceType) (*models.EmergencyResource, error) {
	const op = "CrisisService.Resource"

	r := s.tools.ProvideLocalResource(ctx, t)
	if r == nil {
		return nil, utils.E(utils.CodeNotFound, op, "no resource of that type", nil)
	}
	return r, nil
}

type Preferences struct {
	Incognito         *bool                    `json:"incognito_mode"`
	AutoCallEmergency *bool                    `json:"auto_call_emergency"`
	EmergencyContact  *models.EmergencyContact `json:"emergency_contact"`
	ClearContact      bool                     `json:"clear_emergency_contact"`
}

// UpdatePreferences applies the fields that are set, in order, stopping at
// the first failure.
func (s *CrisisService) UpdatePreferences(ctx context.Context, p Preferences) (session.State, error) {
	if p.Incognito != nil {
		if _, err := s.sessions.SetIncognito(ctx, *p.Incognito); err != nil {
			return session.State{}, err
		}
	}
	if p.AutoCallEmergency != nil {
		if _, err := s.sessions.SetAutoCallEmergency(ctx, *p.AutoCallEmergency); err != nil {
			return session.State{}, err
		}
	}
	switch {
	case p.ClearContact:
		if _, err := s.sessions.SetEmergencyContact(ctx, nil); err != nil {
			return session.State{}, err
		}
	case p.EmergencyContact != nil:
		if _, err := s.sessions.SetEmergencyContact(ctx, p.EmergencyContact); err != nil {
			return session.State{}, err
		}
	}
	return s.sessions.Snapshot(), nil
}

// NetworkChanged maps connectivity onto the advisory connection quality.
func (s *CrisisService) NetworkChanged(online bool) {
	if online {
		s.sessions.SetConnectionQuality(models.QualityGood)
		return
	}
	s.sessions.SetConnectionQuality(models.QualityPoor)
	s.notice(NoticeWarn, MsgOffline)
}

func (s *CrisisService) OpenGuide(ctx context.Context, name string) (narration.Guide, error) {
	return s.guides.Open(ctx, name)
}

func (s *CrisisService) CloseGuide() { s.guides.Close() }

func (s *CrisisService) NarrationState() narration.State { return s.engine.State() }
func (s *CrisisService) PauseNarration()                 { s.engine.Pause() }
func (s *CrisisService) ResumeNarration()                { s.engine.Resume() }

func (s *CrisisService) CancelNarration() {
	s.guides.Close()
	s.engine.Cancel()
}

// handleDisconnect runs on the transport's reader. A local close needs
// nothing, an agent hang-up ends the session and a dropped link is retried.
func (s *CrisisService) handleDisconnect(userInitiated bool, err error) {
	if userInitiated {
		return
	}
	if err == nil {
		go func() {
			if _, err := s.End(context.Background()); err != nil {
				s.log.WithError(err).Debug("end after agent hang-up")
			}
		}()
		return
	}
	go s.reconnect(context.Background())
}

func (s *CrisisService) reconnect(ctx context.Context) {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	if err := s.sessions.SetStatus(ctx, models.StatusReconnecting); err != nil {
		s.log.WithError(err).Debug("not reconnecting")
		return
	}
	s.notice(NoticeWarn, MsgConnectionLost)

	for i := 1; i <= s.attempts; i++ {
		t := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		switch s.sessions.Status() {
		case models.StatusReconnecting:
		case models.StatusError:
			if err := s.sessions.SetStatus(ctx, models.StatusReconnecting); err != nil {
				return
			}
		default:
			// ended or reset meanwhile
			return
		}

		n := s.sessions.NoteReconnectAttempt()
		log := s.log.WithField("attempt", n)
		if err := s.convo.Connect(ctx); err != nil {
			log.WithError(err).Warn("reconnect attempt failed")
			continue
		}
		if s.sessions.Status() == models.StatusActive {
			log.Info("reconnected")
			return
		}
	}

	if s.sessions.Status() != models.StatusError {
		if err := s.sessions.SetStatus(ctx, models.StatusError); err != nil {
			s.log.WithError(err).Debug("reconnect give-up status")
		}
	}
	s.stopWatch()
	s.notice(NoticeError, MsgReconnectionFailed)
}

// trackActivity notes the time of the last transcript entry.
func (s *CrisisService) trackActivity(st session.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.TranscriptEntries != s.lastEntries {
		s.lastEntries = st.TranscriptEntries
		s.lastActivity = time.Now()
	}
}

func (s *CrisisService) startWatch() {
	if s.maxDuration <= 0 && s.idle <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
	}
	s.watchCancel = cancel
	s.lastActivity = time.Now()
	s.mu.Unlock()

	go s.watch(ctx)
}

func (s *CrisisService) stopWatch() {
	s.mu.Lock()
	cancel := s.watchCancel
	s.watchCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// watch ends the session when it runs too long or goes quiet.
func (s *CrisisService) watch(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if st := s.sessions.Status(); st == models.StatusEnded || st == models.StatusIdle {
			return
		}

		s.mu.Lock()
		quiet := time.Since(s.lastActivity)
		s.mu.Unlock()

		var msg string
		switch {
		case s.maxDuration > 0 && time.Duration(s.sessions.Duration())*time.Second >= s.maxDuration:
			msg = MsgSessionMaxDuration
		case s.idle > 0 && quiet >= s.idle:
			msg = MsgSessionTimeout
		default:
			continue
		}

		s.notice(NoticeInfo, msg)
		if _, err := s.End(context.Background()); err != nil {
			s.log.WithError(err).Warn("watchdog could not end session")
		}
		return
	}
}
