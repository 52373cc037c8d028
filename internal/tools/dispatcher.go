// Package tools runs the side effects the voice agent or the user can ask
// for: alerting emergency services, looking up a hotline and reading the
// device location.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/crisishelp/internal/location"
	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/session"
	"github.com/yoockh/crisishelp/internal/utils"
)

// DisplayWindow is how long a finished tool stays highlighted.
const DisplayWindow = 3 * time.Second

// Sessions is the part of the session store the dispatcher touches.
type Sessions interface {
	Snapshot() session.State
	ActivateTool(name models.ToolName) string
	DeactivateTool(id string)
	RecordToolTriggered(name models.ToolName)
	LogToolCall(ctx context.Context, inv models.ToolInvocation)
}

type Dispatcher struct {
	sessions Sessions
	dialer   Dialer
	locator  location.Locator
	log      *logrus.Logger

	display  time.Duration
	schedule func(time.Duration, func())
	now      func() time.Time
}

type Options struct {
	Sessions Sessions
	Dialer   Dialer
	Locator  location.Locator
	Logger   *logrus.Logger

	// DisplayWindow and Schedule default to DisplayWindow and time.AfterFunc.
	DisplayWindow time.Duration
	Schedule      func(time.Duration, func())
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.DisplayWindow <= 0 {
		opts.DisplayWindow = DisplayWindow
	}
	if opts.Schedule == nil {
		opts.Schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	return &Dispatcher{
		sessions: opts.Sessions,
		dialer:   opts.Dialer,
		locator:  opts.Locator,
		log:      opts.Logger,
		display:  opts.DisplayWindow,
		schedule: opts.Schedule,
		now:      time.Now,
	}
}

// invocation tracks one tool call from highlight to log record.
type invocation struct {
	d    *Dispatcher
	id   string
	name models.ToolName
	args map[string]any
}

func (d *Dispatcher) begin(name models.ToolName, args map[string]any) *invocation {
	id := d.sessions.ActivateTool(name)
	d.sessions.RecordToolTriggered(name)
	return &invocation{d: d, id: id, name: name, args: args}
}

// done logs the result and clears the highlight after the display window.
func (inv *invocation) done(ctx context.Context, result any) {
	inv.d.sessions.LogToolCall(ctx, models.ToolInvocation{
		ToolName:  inv.name,
		Args:      inv.args,
		Result:    result,
		Timestamp: inv.d.now().UTC(),
	})
	id := inv.id
	inv.d.schedule(inv.d.display, func() { inv.d.sessions.DeactivateTool(id) })
}

// failed clears the highlight right away.
func (inv *invocation) failed(err error) {
	inv.d.log.WithError(err).WithField("tool", inv.name).Warn("tool call failed")
	inv.d.sessions.DeactivateTool(inv.id)
}

// AlertEmergencyServices dials 911 first when autoCall is set, then tries to
// get a location and, with one, texts a map link to the contact. Location
// problems never hold up the call.
func (d *Dispatcher) AlertEmergencyServices(ctx context.Context, priority models.Priority, autoCall bool, contact *models.EmergencyContact) models.AlertResult {
	inv := d.begin(models.ToolAlertEmergencyServices, map[string]any{
		"priority": priority,
		"autoCall": autoCall,
	})
	res := d.alert(ctx, priority, autoCall, contact)
	inv.done(ctx, res)
	return res
}

func (d *Dispatcher) alert(ctx context.Context, priority models.Priority, autoCall bool, contact *models.EmergencyContact) models.AlertResult {
	log := d.log.WithFields(logrus.Fields{"priority": priority, "auto_call": autoCall})
	var res models.AlertResult

	if autoCall {
		if err := d.dialer.Call(ctx, EmergencyNumber); err != nil {
			log.WithError(err).Error("emergency dial failed")
		} else {
			res.Called = true
		}
	}

	if d.locator != nil {
		loc, err := d.locator.Locate(ctx)
		if err != nil {
			log.WithField("reason", location.ReasonOf(err).String()).Warn("could not get location for alert")
		} else {
			res.Location = &loc
		}
	}

	if res.Location != nil && contact != nil && contact.Phone != "" {
		if err := d.dialer.ComposeSMS(ctx, contact.Phone, SOSMessage(*res.Location)); err != nil {
			log.WithError(err).Warn("contact sms failed")
		} else {
			res.SharedWithContact = true
		}
	}

	res.Success = res.Called || res.Location != nil || res.SharedWithContact
	log.WithFields(logrus.Fields{
		"called":       res.Called,
		"has_location": res.Location != nil,
		"shared":       res.SharedWithContact,
	}).Info("emergency alert")
	return res
}

// ProvideLocalResource returns the hotline for t, or nil for unknown types.
func (d *Dispatcher) ProvideLocalResource(ctx context.Context, t models.ResourceType) *models.EmergencyResource {
	inv := d.begin(models.ToolProvideLocalResource, map[string]any{"type": t})
	r := LookupResource(t)
	inv.done(ctx, r)
	return r
}

// GetLocation fails with an error wrapping *location.Error when no position
// could be obtained.
func (d *Dispatcher) GetLocation(ctx context.Context) (*models.Location, error) {
	const op = "Dispatcher.GetLocation"

	inv := d.begin(models.ToolGetLocation, nil)
	if d.locator == nil {
		err := &location.Error{Reason: location.ReasonUnavailable}
		inv.failed(err)
		return nil, utils.E(utils.CodeUnavailable, op, err.Error(), err)
	}
	loc, err := d.locator.Locate(ctx)
	if err != nil {
		inv.failed(err)
		return nil, utils.E(utils.CodeUnavailable, op, err.Error(), err)
	}
	inv.done(ctx, loc)
	return &loc, nil
}

// SOS is the user's panic button: a high-priority alert that always dials.
// If the alert path did not reach 911, it dials again directly.
func (d *Dispatcher) SOS(ctx context.Context) models.AlertResult {
	st := d.sessions.Snapshot()
	res := d.AlertEmergencyServices(ctx, models.PriorityHigh, true, st.EmergencyContact)
	if res.Called {
		return res
	}
	if err := d.dialer.Call(ctx, EmergencyNumber); err != nil {
		d.log.WithError(err).Error("sos fallback dial failed")
		return res
	}
	res.Called = true
	res.Success = true
	return res
}

// Invoke routes a tool call by name. Alerts use the session's consent flag
// and emergency contact.
func (d *Dispatcher) Invoke(ctx context.Context, name models.ToolName, params json.RawMessage) (any, error) {
	const op = "Dispatcher.Invoke"

	var args struct {
		Priority models.Priority     `json:"priority"`
		Type     models.ResourceType `json:"type"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, "invalid tool parameters", err)
		}
	}

	switch name {
	case models.ToolAlertEmergencyServices:
		if args.Priority == "" {
			args.Priority = models.PriorityHigh
		}
		st := d.sessions.Snapshot()
		return d.AlertEmergencyServices(ctx, args.Priority, st.AutoCallEmergency, st.EmergencyContact), nil
	case models.ToolProvideLocalResource:
		return d.ProvideLocalResource(ctx, args.Type), nil
	case models.ToolGetLocation:
		return d.GetLocation(ctx)
	default:
		return nil, utils.E(utils.CodeInvalidArgument, op, "unknown tool "+string(name), nil)
	}
}
