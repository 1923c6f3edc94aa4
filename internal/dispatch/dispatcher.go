// Package dispatch routes orchestration events into the state machine and
// executes the commands it decides on. All events for one session run under
// that session's exclusive section; events for different sessions proceed
// in parallel.
package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"voicegate/internal/config"
	"voicegate/internal/escalate"
	"voicegate/internal/flow"
	"voicegate/internal/metrics"
	"voicegate/internal/session"
	"voicegate/internal/vonage"
)

// CallController is the subset of the provider client the dispatcher needs
type CallController interface {
	CreateCall(ctx context.Context, req vonage.CreateCallRequest) (*vonage.CreateCallResponse, error)
	Hangup(ctx context.Context, legID string) error
	StartRecording(ctx context.Context, legID string, opts vonage.RecordingOptions) error
	StreamAudio(ctx context.Context, legID, streamURL string, loop int, level float64) error
	StopStreamAudio(ctx context.Context, legID string) error
}

// Publisher receives session snapshots after each applied transition
type Publisher interface {
	PublishSession(snap session.Snapshot)
}

const (
	retryAttempts = 3
	retryBaseWait = 250 * time.Millisecond
)

// Dispatcher is the event router
type Dispatcher struct {
	store     *session.Store
	client    CallController
	timers    *escalate.Scheduler
	publisher Publisher
	cfg       *config.Config
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher. The escalation scheduler is bound
// afterwards because its fire callback points back here.
func NewDispatcher(store *session.Store, client CallController, cfg *config.Config, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// BindScheduler attaches the escalation scheduler
func (d *Dispatcher) BindScheduler(s *escalate.Scheduler) { d.timers = s }

// BindPublisher attaches the monitor feed
func (d *Dispatcher) BindPublisher(p Publisher) { d.publisher = p }

// DispatchPrimary handles an event for a primary PSTN leg identified by
// its provider call UUID. Sessions are created only for recognized
// new-call events (ringing/answered on a brand-new UUID); anything else
// referencing an unknown UUID is dropped.
func (d *Dispatcher) DispatchPrimary(ctx context.Context, callUUID string, direction session.Direction, ev flow.Event) vonage.NCCO {
	metrics.Get().RecordEventReceived()

	sess := d.store.FindByLegID(callUUID)
	if sess == nil {
		if ev.Kind != flow.LegRinging && ev.Kind != flow.LegAnswered {
			d.dropEvent(callUUID, ev)
			return nil
		}
		var created bool
		sess, created = d.store.GetOrCreate(callUUID, direction, d.cfg.RecordCalls)
		if created {
			metrics.Get().RecordSessionCreated()
		}
	}
	return d.run(ctx, sess, ev)
}

// DispatchSession handles an event addressed to a known session (secondary
// leg webhooks, manual transfer, escalation firing)
func (d *Dispatcher) DispatchSession(ctx context.Context, sessionID string, ev flow.Event) vonage.NCCO {
	metrics.Get().RecordEventReceived()

	sess := d.store.FindBySessionID(sessionID)
	if sess == nil {
		d.dropEvent(sessionID, ev)
		return nil
	}
	return d.run(ctx, sess, ev)
}

// FireEscalation is the escalation scheduler's entry point
func (d *Dispatcher) FireEscalation(sessionID string) {
	metrics.Get().RecordEscalationFired()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.DispatchSession(ctx, sessionID, flow.Event{Kind: flow.EscalationFired})
}

// StartOutboundCall originates the primary leg of an outbound session and
// registers the session once the provider accepts the call. The rest of
// the call proceeds through the same webhooks as an inbound call.
func (d *Dispatcher) StartOutboundCall(ctx context.Context, number string) (string, error) {
	req := vonage.CreateCallRequest{
		To:           []vonage.Endpoint{vonage.PhoneEndpoint(number)},
		From:         vonage.PhoneEndpoint(d.cfg.ServiceNumber),
		Limit:        int(d.cfg.MaxCallDuration.Seconds()),
		AnswerURL:    []string{d.cfg.BaseURL + "/webhooks/answer?direction=outbound"},
		AnswerMethod: "GET",
		EventURL:     []string{d.cfg.BaseURL + "/webhooks/event?direction=outbound"},
		EventMethod:  "POST",
	}

	var resp *vonage.CreateCallResponse
	err := d.retry(ctx, "", "create_outbound_call", func() error {
		var err error
		resp, err = d.client.CreateCall(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}

	_, created := d.store.GetOrCreate(resp.UUID, session.DirectionOutbound, d.cfg.RecordCalls)
	if created {
		metrics.Get().RecordSessionCreated()
	}

	d.logger.Info().
		Str("session_id", resp.UUID).
		Str("number", number).
		Str("status", resp.Status).
		Msg("outbound call created")
	return resp.UUID, nil
}

// run applies one event under the session's exclusive section and executes
// the resulting commands
func (d *Dispatcher) run(ctx context.Context, sess *session.CallSession, ev flow.Event) vonage.NCCO {
	sess.Lock()
	cmds := flow.Transition(sess, ev)
	ncco := d.execute(ctx, sess, cmds)
	snap := sess.Snapshot()
	sess.Unlock()

	d.logger.Debug().
		Str("session_id", sess.ID).
		Str("event", string(ev.Kind)).
		Str("role", string(ev.Role)).
		Str("state", string(snap.State)).
		Int("commands", len(cmds)).
		Msg("event applied")

	if d.publisher != nil {
		d.publisher.PublishSession(snap)
	}
	return ncco
}

// execute runs the command list decided by one transition. NCCO-renderable
// commands (greeting, conference join) accumulate into the webhook
// response; everything else goes to the provider client. Command failures
// are isolated: one failing command never aborts its siblings, and the
// state transition stands regardless of delivery.
func (d *Dispatcher) execute(ctx context.Context, sess *session.CallSession, cmds []flow.Command) vonage.NCCO {
	var ncco vonage.NCCO
	m := metrics.Get()

	for _, cmd := range cmds {
		switch cmd.Kind {
		case flow.CmdPlayGreeting:
			ncco = append(ncco, vonage.Talk(cmd.Text))

		case flow.CmdJoinConference:
			ncco = append(ncco, vonage.Conversation(sess.Conference(), cmd.StartOnEnter, cmd.EndOnExit))

		case flow.CmdStartRecording:
			m.RecordCommandIssued()
			err := d.retry(ctx, sess.ID, "start_recording", func() error {
				return d.client.StartRecording(ctx, cmd.LegID, vonage.DefaultRecordingOptions())
			})
			d.commandResult(sess.ID, "start_recording", cmd.LegID, err)

		case flow.CmdCreateProcessorLeg:
			m.RecordCommandIssued()
			d.createProcessorLeg(ctx, sess)

		case flow.CmdCreateAgentLeg:
			m.RecordCommandIssued()
			m.RecordTransferStarted()
			d.createAgentLeg(ctx, sess)

		case flow.CmdEndLeg:
			m.RecordCommandIssued()
			err := d.retry(ctx, sess.ID, "end_leg", func() error {
				return d.client.Hangup(ctx, cmd.LegID)
			})
			d.commandResult(sess.ID, "end_leg", cmd.LegID, err)

		case flow.CmdStreamHoldAudio:
			// Fire-and-forget: hold music failures are not retried
			m.RecordCommandIssued()
			err := d.client.StreamAudio(ctx, sess.Primary().ID, d.cfg.HoldMusicURL, 0, -0.6)
			d.commandResult(sess.ID, "stream_hold_audio", sess.Primary().ID, err)

		case flow.CmdStopHoldAudio:
			m.RecordCommandIssued()
			err := d.client.StopStreamAudio(ctx, sess.Primary().ID)
			d.commandResult(sess.ID, "stop_hold_audio", sess.Primary().ID, err)

		case flow.CmdScheduleEscalation:
			if d.timers != nil {
				d.timers.Schedule(sess.ID, d.cfg.EscalationDelay)
			}

		case flow.CmdCancelEscalation:
			if d.timers != nil {
				d.timers.Cancel(sess.ID)
			}

		case flow.CmdEvictSession:
			d.store.Remove(sess.ID)
			metrics.Get().RecordSessionEvicted()
		}
	}
	return ncco
}

// createProcessorLeg asks the provider for a websocket leg towards the AI
// processor. The leg UUID from the response is indexed so later webhooks
// for it resolve to this session.
func (d *Dispatcher) createProcessorLeg(ctx context.Context, sess *session.CallSession) {
	wsURI := fmt.Sprintf("wss://%s/socket?%s", d.cfg.ProcessorServer, url.Values{
		"participant":    {"user1"},
		"call_direction": {string(sess.Direction)},
		"peer_uuid":      {sess.ID},
		"webhook_url":    {d.cfg.BaseURL + "/webhooks/results"},
	}.Encode())

	req := vonage.CreateCallRequest{
		To:           []vonage.Endpoint{vonage.WebsocketEndpoint(wsURI)},
		From:         vonage.PhoneEndpoint(d.cfg.ServiceNumber),
		AnswerURL:    []string{d.legURL("/webhooks/processor/answer", sess.ID)},
		AnswerMethod: "GET",
		EventURL:     []string{d.legURL("/webhooks/processor/event", sess.ID)},
		EventMethod:  "POST",
	}

	var resp *vonage.CreateCallResponse
	err := d.retry(ctx, sess.ID, "create_processor_leg", func() error {
		var err error
		resp, err = d.client.CreateCall(ctx, req)
		return err
	})
	if err != nil {
		d.commandResult(sess.ID, "create_processor_leg", "", err)
		return
	}

	if leg := sess.Leg(session.RoleProcessor); leg != nil {
		leg.ID = resp.UUID
		d.store.AttachLeg(sess.ID, resp.UUID)
	}
	d.logger.Info().
		Str("session_id", sess.ID).
		Str("leg_id", resp.UUID).
		Msg("processor leg created")
}

// createAgentLeg originates the live-agent PSTN leg
func (d *Dispatcher) createAgentLeg(ctx context.Context, sess *session.CallSession) {
	req := vonage.CreateCallRequest{
		To:           []vonage.Endpoint{vonage.PhoneEndpoint(d.cfg.AgentNumber)},
		From:         vonage.PhoneEndpoint(d.cfg.ServiceNumber),
		AnswerURL:    []string{d.legURL("/webhooks/agent/answer", sess.ID)},
		AnswerMethod: "GET",
		EventURL:     []string{d.legURL("/webhooks/agent/event", sess.ID)},
		EventMethod:  "POST",
	}

	var resp *vonage.CreateCallResponse
	err := d.retry(ctx, sess.ID, "create_agent_leg", func() error {
		var err error
		resp, err = d.client.CreateCall(ctx, req)
		return err
	})
	if err != nil {
		d.commandResult(sess.ID, "create_agent_leg", "", err)
		return
	}

	if leg := sess.Leg(session.RoleAgent); leg != nil {
		leg.ID = resp.UUID
		d.store.AttachLeg(sess.ID, resp.UUID)
	}
	d.logger.Info().
		Str("session_id", sess.ID).
		Str("leg_id", resp.UUID).
		Msg("agent leg created")
}

// legURL builds a callback URL carrying the owning session's ID
func (d *Dispatcher) legURL(path, sessionID string) string {
	return d.cfg.BaseURL + path + "?session=" + url.QueryEscape(sessionID)
}

// retry runs fn, retrying transient provider errors with exponential
// backoff. Permanent errors return immediately.
func (d *Dispatcher) retry(ctx context.Context, sessionID, command string, fn func() error) error {
	var err error
	wait := retryBaseWait

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || !vonage.IsTransient(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}

		metrics.Get().RecordCommandRetry()
		d.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("command", command).
			Int("attempt", attempt).
			Msg("transient provider error, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}

// commandResult logs a command outcome and counts failures
func (d *Dispatcher) commandResult(sessionID, command, legID string, err error) {
	if err == nil {
		return
	}
	metrics.Get().RecordCommandError()
	d.logger.Error().
		Err(err).
		Str("session_id", sessionID).
		Str("command", command).
		Str("leg_id", legID).
		Msg("provider command failed")
}

// dropEvent logs and counts an event referencing an unknown session or leg
func (d *Dispatcher) dropEvent(ref string, ev flow.Event) {
	metrics.Get().RecordEventDropped()
	d.logger.Warn().
		Str("ref", ref).
		Str("event", string(ev.Kind)).
		Str("role", string(ev.Role)).
		Msg("event references unknown session or leg, dropping")
}
