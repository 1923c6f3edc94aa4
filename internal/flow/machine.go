// Package flow holds the call-leg orchestration state machine. Transition
// is a pure decision function: given a locked session and one event it
// mutates session state and returns the commands to issue, but performs no
// I/O itself. Duplicate and out-of-order provider webhooks therefore reduce
// to repeated Transition calls, which the guards below turn into no-ops.
package flow

import (
	"voicegate/internal/session"
)

// EventKind identifies an orchestration event
type EventKind string

const (
	LegRinging        EventKind = "leg_ringing"
	LegAnswered       EventKind = "leg_answered"
	LegTransferred    EventKind = "leg_transferred"
	LegEnded          EventKind = "leg_ended"
	EscalationFired   EventKind = "escalation_fired"
	TransferRequested EventKind = "transfer_requested"
)

// Event is one orchestration event, either decoded from a provider webhook
// or synthesized (escalation timer, manual transfer)
type Event struct {
	Kind   EventKind
	Role   session.LegRole
	LegID  string
	Reason string
}

// CommandKind identifies a control action to issue via the provider client
type CommandKind string

const (
	CmdStartRecording     CommandKind = "start_recording"
	CmdPlayGreeting       CommandKind = "play_greeting"
	CmdJoinConference     CommandKind = "join_conference"
	CmdCreateProcessorLeg CommandKind = "create_processor_leg"
	CmdCreateAgentLeg     CommandKind = "create_agent_leg"
	CmdEndLeg             CommandKind = "end_leg"
	CmdStreamHoldAudio    CommandKind = "stream_hold_audio"
	CmdStopHoldAudio      CommandKind = "stop_hold_audio"
	CmdScheduleEscalation CommandKind = "schedule_escalation"
	CmdCancelEscalation   CommandKind = "cancel_escalation"
	CmdEvictSession       CommandKind = "evict_session"
)

// Command is one control action decided by the state machine. The
// dispatcher binds configuration (agent number, escalation delay, hold
// music URL) when executing.
type Command struct {
	Kind         CommandKind
	LegID        string
	Role         session.LegRole
	Text         string
	StartOnEnter bool
	EndOnExit    bool
}

// Greeting texts match the provider-side talk actions of the original
// call flows.
const (
	GreetingInbound  = "Connecting your call. You may now speak."
	GreetingOutbound = "Hello. This is a call from your preferred provider. You may now speak."
)

// Transition applies one event to a session. The caller must hold the
// session lock. Events on terminal sessions return no commands.
func Transition(s *session.CallSession, ev Event) []Command {
	if s.State.IsTerminal() {
		return nil
	}
	s.Touch()

	switch ev.Kind {
	case LegRinging:
		return legRinging(s, ev)
	case LegAnswered:
		return legAnswered(s, ev)
	case LegTransferred:
		return legTransferred(s, ev)
	case LegEnded:
		return legEnded(s, ev)
	case EscalationFired, TransferRequested:
		return beginTransfer(s)
	}
	return nil
}

func legRinging(s *session.CallSession, ev Event) []Command {
	leg := s.Leg(ev.Role)
	if leg == nil || leg.Status == session.LegEnded {
		return nil
	}
	if leg.Status == session.LegPending {
		leg.Status = session.LegRinging
	}

	var cmds []Command
	if ev.Role == session.RolePrimary {
		if s.State == session.StateCreated {
			s.State = session.StateRinging
		}
		// Outbound legs are recorded from the ringing event; the latch
		// keeps a later answered event from starting a second recording.
		if s.Direction == session.DirectionOutbound && s.RecordingReq && !s.RecordingOn {
			s.RecordingOn = true
			cmds = append(cmds, Command{Kind: CmdStartRecording, LegID: leg.ID})
		}
	}
	return cmds
}

func legAnswered(s *session.CallSession, ev Event) []Command {
	switch ev.Role {
	case session.RolePrimary:
		return primaryAnswered(s)
	case session.RoleProcessor:
		return processorAnswered(s, ev)
	case session.RoleAgent:
		return agentAnswered(s, ev)
	}
	return nil
}

func primaryAnswered(s *session.CallSession) []Command {
	if s.State != session.StateCreated && s.State != session.StateRinging {
		// Duplicate delivery after the leg already bridged
		return nil
	}

	primary := s.Primary()
	primary.Status = session.LegConnected
	s.State = session.StateBridged

	var cmds []Command
	if s.RecordingReq && !s.RecordingOn {
		s.RecordingOn = true
		cmds = append(cmds, Command{Kind: CmdStartRecording, LegID: primary.ID})
	}

	greeting := GreetingInbound
	if s.Direction == session.DirectionOutbound {
		greeting = GreetingOutbound
	}
	cmds = append(cmds,
		Command{Kind: CmdPlayGreeting, Text: greeting},
		Command{
			Kind:         CmdJoinConference,
			Role:         session.RolePrimary,
			LegID:        primary.ID,
			StartOnEnter: true,
			EndOnExit:    true,
		},
	)
	return cmds
}

func processorAnswered(s *session.CallSession, ev Event) []Command {
	if s.State != session.StateProcessorConnecting {
		// Late processor webhook after a transfer began, or a duplicate:
		// stale reference, drop
		return nil
	}
	leg := s.Leg(session.RoleProcessor)
	if leg == nil || leg.Status == session.LegEnded {
		return nil
	}
	if leg.ID == "" {
		leg.ID = ev.LegID
	}
	leg.Status = session.LegConnected
	s.State = session.StateProcessorActive

	return []Command{{
		Kind:         CmdJoinConference,
		Role:         session.RoleProcessor,
		LegID:        leg.ID,
		StartOnEnter: true,
		EndOnExit:    false,
	}}
}

func agentAnswered(s *session.CallSession, ev Event) []Command {
	if s.State != session.StateTransferring {
		return nil
	}
	leg := s.Leg(session.RoleAgent)
	if leg == nil || leg.Status == session.LegEnded {
		return nil
	}
	if leg.ID == "" {
		leg.ID = ev.LegID
	}
	leg.Status = session.LegConnected
	s.State = session.StateAgentActive

	// Stop hold music before the agent joins the conference
	return []Command{
		{Kind: CmdStopHoldAudio},
		{
			Kind:         CmdJoinConference,
			Role:         session.RoleAgent,
			LegID:        leg.ID,
			StartOnEnter: true,
			EndOnExit:    true,
		},
	}
}

func legTransferred(s *session.CallSession, ev Event) []Command {
	if ev.Role != session.RolePrimary {
		return nil
	}
	if s.State != session.StateBridged {
		return nil
	}
	// At most one processor leg per session lifetime, unless the prior
	// one already ended
	if proc := s.Leg(session.RoleProcessor); proc != nil && proc.Status != session.LegEnded {
		return nil
	}

	s.Legs[session.RoleProcessor] = &session.Leg{
		Role:   session.RoleProcessor,
		Kind:   session.KindMediaStream,
		Status: session.LegPending,
	}
	s.ProcessorCount++
	s.State = session.StateProcessorConnecting

	return []Command{
		{Kind: CmdCreateProcessorLeg},
		{Kind: CmdScheduleEscalation},
	}
}

func legEnded(s *session.CallSession, ev Event) []Command {
	leg := s.Leg(ev.Role)
	if leg == nil || leg.Status == session.LegEnded {
		return nil
	}
	leg.Status = session.LegEnded

	switch ev.Role {
	case session.RolePrimary:
		// The primary leg going away tears the whole session down
		cmds := []Command{{Kind: CmdCancelEscalation}}
		for _, other := range s.ActiveLegs(session.RolePrimary) {
			other.Status = session.LegEnded
			if other.ID != "" {
				cmds = append(cmds, Command{Kind: CmdEndLeg, LegID: other.ID, Role: other.Role})
			}
		}
		s.State = session.StateTerminated
		cmds = append(cmds, Command{Kind: CmdEvictSession})
		return cmds

	case session.RoleProcessor:
		// The conference survives a processor drop; a later transfer
		// event may create a fresh processor leg
		if s.State == session.StateProcessorConnecting || s.State == session.StateProcessorActive {
			s.State = session.StateBridged
		}
	}
	return nil
}

// beginTransfer escalates the session to a live agent. Either the
// escalation timer or a manual transfer request lands here; both are
// no-ops unless the primary leg is still connected and no transfer is
// already underway.
func beginTransfer(s *session.CallSession) []Command {
	switch s.State {
	case session.StateBridged, session.StateProcessorConnecting, session.StateProcessorActive:
	default:
		return nil
	}
	if s.Primary().Status != session.LegConnected {
		return nil
	}

	cmds := []Command{{Kind: CmdCancelEscalation}}

	// Hang up the processor leg first; NotFound/AlreadyEnded from the
	// provider is success. Late processor webhooks after this point are
	// stale references.
	if proc := s.Leg(session.RoleProcessor); proc != nil && proc.Status != session.LegEnded {
		proc.Status = session.LegEnded
		if proc.ID != "" {
			cmds = append(cmds, Command{Kind: CmdEndLeg, LegID: proc.ID, Role: session.RoleProcessor})
		}
	}

	s.Legs[session.RoleAgent] = &session.Leg{
		Role:   session.RoleAgent,
		Kind:   session.KindPhone,
		Status: session.LegPending,
	}
	s.State = session.StateTransferring

	cmds = append(cmds,
		Command{Kind: CmdCreateAgentLeg},
		Command{Kind: CmdStreamHoldAudio},
	)
	return cmds
}
