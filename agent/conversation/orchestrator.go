package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentcircle/internal/clock"
	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
)

// State is the orchestrator state.
type State string

const (
	StateIdle              State = "idle"
	StateAutoWaiting       State = "auto_waiting"
	StateContinuousPlaying State = "continuous_playing"
	StateManualWaiting     State = "manual_waiting"
)

// Trigger says why a turn was started.
type Trigger string

const (
	TriggerAuto       Trigger = "auto"
	TriggerContinuous Trigger = "continuous"
	TriggerForce      Trigger = "force"
)

// TurnRunner performs one agent turn in a conversation: it invokes the agent,
// processes its output and appends the result to the transcript.
type TurnRunner interface {
	RunTurn(ctx context.Context, conversationID, agentID string) error
}

// TurnReport describes a finished turn.
type TurnReport struct {
	ConversationID string
	AgentID        string
	Trigger        Trigger
	Err            error
	Duration       time.Duration
	// Stale is set when the orchestrator was rebound while the turn ran.
	Stale bool
}

// OrchestratorConfig configures turn pacing.
type OrchestratorConfig struct {
	AutoReplyDelay  time.Duration `yaml:"auto_reply_delay" json:"auto_reply_delay"`
	ContinuousDelay time.Duration `yaml:"continuous_delay" json:"continuous_delay"`
	// AutoMode is the mode used on the first binding.
	AutoMode bool `yaml:"auto_mode" json:"auto_mode"`
}

// DefaultOrchestratorConfig returns the default pacing.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		AutoReplyDelay:  1500 * time.Millisecond,
		ContinuousDelay: 4 * time.Second,
		AutoMode:        true,
	}
}

// EventType identifies an orchestrator event.
type EventType string

const (
	EventBind            EventType = "bind"
	EventUnbind          EventType = "unbind"
	EventParticipants    EventType = "participants"
	EventUserMessage     EventType = "user_message"
	EventTogglePlayPause EventType = "toggle_play_pause"
	EventSetContinuous   EventType = "set_continuous"
	EventForceTurn       EventType = "force_turn"
	EventToggleAutoMode  EventType = "toggle_auto_mode"
	eventTimer           EventType = "timer"
)

// Event is an input to the orchestrator state machine.
type Event struct {
	Type           EventType
	ConversationID string   // bind
	Participants   []string // bind, participants
	MessageID      string   // user_message
	AgentID        string   // force_turn
	On             bool     // set_continuous

	epoch   uint64
	gen     uint64
	trigger Trigger
}

// Status is a snapshot of the orchestrator.
type Status struct {
	State          State    `json:"state"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Participants   []string `json:"participants"`
	TurnIndex      int      `json:"turn_index"`
	AutoMode       bool     `json:"auto_mode"`
	Continuous     bool     `json:"continuous"`
	Busy           bool     `json:"busy"`
	Speaking       string   `json:"speaking,omitempty"`
}

// Orchestrator decides which agent speaks next in the bound conversation.
//
// At most one turn is in flight per conversation, across rebindings: a turn
// started before switching away still blocks the conversation until it
// resolves. Automatic triggers are dropped while a turn runs. Each binding
// gets a new epoch; timers and turn results from an older epoch are discarded.
type Orchestrator struct {
	mu sync.Mutex

	runner TurnRunner
	clock  clock.Clock
	config OrchestratorConfig
	logger *zap.Logger

	bound          bool
	conversationID string
	participants   []string
	turnIndex      int
	auto           bool
	continuous     bool
	seen           map[string]struct{}

	// inflight maps conversation id to the agent whose turn is running.
	inflight map[string]string

	epoch    uint64
	timerGen uint64
	timer    clock.Timer

	onError func(conversationID, agentID string, err error)
	onTurn  func(TurnReport)
	spawn   func(func())
	ctx     context.Context
}

// NewOrchestrator creates an unbound orchestrator.
func NewOrchestrator(runner TurnRunner, clk clock.Clock, config OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Orchestrator{
		runner: runner,
		clock:  clk,
		config: config,
		logger: logger.With(zap.String("component", "orchestrator")),
		auto:   config.AutoMode,
		seen:     make(map[string]struct{}),
		inflight: make(map[string]string),
		spawn:  func(f func()) { go f() },
		ctx:    context.Background(),
	}
}

// OnError registers a hook called when a turn fails.
func (o *Orchestrator) OnError(fn func(conversationID, agentID string, err error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onError = fn
}

// OnTurn registers a hook called after every turn.
func (o *Orchestrator) OnTurn(fn func(TurnReport)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onTurn = fn
}

// Bind switches to a conversation. Leaving another conversation resets the
// turn index and dedup state, cancels pending timers and turns off both auto
// mode and continuous play.
func (o *Orchestrator) Bind(conversationID string, participants []string) error {
	return o.Dispatch(Event{Type: EventBind, ConversationID: conversationID, Participants: participants})
}

// Unbind returns to Idle.
func (o *Orchestrator) Unbind() error {
	return o.Dispatch(Event{Type: EventUnbind})
}

// SetParticipants updates the participant list of the bound conversation.
func (o *Orchestrator) SetParticipants(participants []string) error {
	return o.Dispatch(Event{Type: EventParticipants, Participants: participants})
}

// UserMessage reports a new user message. In auto mode it schedules a reply.
func (o *Orchestrator) UserMessage(messageID string) error {
	return o.Dispatch(Event{Type: EventUserMessage, MessageID: messageID})
}

// TogglePlayPause flips continuous play.
func (o *Orchestrator) TogglePlayPause() error {
	return o.Dispatch(Event{Type: EventTogglePlayPause})
}

// SetContinuous turns continuous play on or off.
func (o *Orchestrator) SetContinuous(on bool) error {
	return o.Dispatch(Event{Type: EventSetContinuous, On: on})
}

// ForceTurn stops continuous play and makes agentID speak now.
func (o *Orchestrator) ForceTurn(agentID string) error {
	return o.Dispatch(Event{Type: EventForceTurn, AgentID: agentID})
}

// ToggleAutoMode flips auto/manual mode and stops continuous play.
func (o *Orchestrator) ToggleAutoMode() error {
	return o.Dispatch(Event{Type: EventToggleAutoMode})
}

// Dispatch applies one event to the state machine.
func (o *Orchestrator) Dispatch(ev Event) error {
	o.mu.Lock()
	start, err := o.apply(ev)
	o.mu.Unlock()
	if start != nil {
		o.spawn(start)
	}
	return err
}

// apply runs with o.mu held. It returns the turn to start, if any.
func (o *Orchestrator) apply(ev Event) (func(), error) {
	switch ev.Type {
	case EventBind:
		if ev.ConversationID == "" {
			return nil, types.NewError(types.ErrInvalidRequest, "conversation id is required")
		}
		if o.bound && o.conversationID == ev.ConversationID {
			o.setParticipants(ev.Participants)
			return nil, nil
		}
		switching := o.bound
		o.reset()
		o.bound = true
		o.conversationID = ev.ConversationID
		o.participants = append([]string(nil), ev.Participants...)
		if switching {
			o.auto = false
		}
		o.logger.Info("conversation bound",
			zap.String("conversation_id", ev.ConversationID),
			zap.Int("participants", len(ev.Participants)),
			zap.String("state", string(o.stateLocked())))
		return nil, nil

	case EventUnbind:
		o.reset()
		o.auto = false
		return nil, nil

	case EventParticipants:
		if !o.bound {
			return nil, errNotBound()
		}
		o.setParticipants(ev.Participants)
		return nil, nil

	case EventUserMessage:
		if !o.bound || ev.MessageID == "" {
			return nil, nil
		}
		if _, dup := o.seen[ev.MessageID]; dup {
			return nil, nil
		}
		o.seen[ev.MessageID] = struct{}{}
		if o.stateLocked() != StateAutoWaiting || o.busyLocked() || len(o.participants) == 0 {
			return nil, nil
		}
		o.arm(o.config.AutoReplyDelay, TriggerAuto)
		return nil, nil

	case EventTogglePlayPause:
		if !o.bound {
			return nil, errNotBound()
		}
		o.setContinuous(!o.continuous)
		return nil, nil

	case EventSetContinuous:
		if !o.bound {
			return nil, errNotBound()
		}
		o.setContinuous(ev.On)
		return nil, nil

	case EventForceTurn:
		if !o.bound {
			return nil, errNotBound()
		}
		o.setContinuous(false)
		if indexOf(o.participants, ev.AgentID) < 0 {
			return nil, types.Errorf(types.ErrUnknownParticipant, "agent %s is not in conversation %s", ev.AgentID, o.conversationID)
		}
		if o.busyLocked() {
			return nil, types.Errorf(types.ErrAgentBusy, "%s is still speaking", o.inflight[o.conversationID])
		}
		o.cancelTimer()
		return o.startTurn(ev.AgentID, TriggerForce), nil

	case EventToggleAutoMode:
		o.auto = !o.auto
		o.setContinuous(false)
		o.cancelTimer()
		o.logger.Info("auto mode toggled", zap.Bool("auto", o.auto))
		return nil, nil

	case eventTimer:
		if ev.epoch != o.epoch || ev.gen != o.timerGen || !o.bound {
			return nil, nil
		}
		o.timer = nil
		if o.busyLocked() || len(o.participants) == 0 {
			return nil, nil
		}
		switch ev.trigger {
		case TriggerAuto:
			if o.stateLocked() != StateAutoWaiting {
				return nil, nil
			}
		case TriggerContinuous:
			if !o.continuous {
				return nil, nil
			}
		}
		agentID := o.participants[o.turnIndex%len(o.participants)]
		return o.startTurn(agentID, ev.trigger), nil
	}
	return nil, types.Errorf(types.ErrInvalidRequest, "unknown event %s", ev.Type)
}

func errNotBound() error {
	return types.NewError(types.ErrInvalidTransition, "no conversation is bound")
}

func (o *Orchestrator) reset() {
	o.cancelTimer()
	o.epoch++
	o.bound = false
	o.conversationID = ""
	o.participants = nil
	o.turnIndex = 0
	o.continuous = false
	o.seen = make(map[string]struct{})
}

// busyLocked reports whether the bound conversation has a turn in flight,
// including one started under an earlier binding.
func (o *Orchestrator) busyLocked() bool {
	if !o.bound {
		return false
	}
	_, ok := o.inflight[o.conversationID]
	return ok
}

func (o *Orchestrator) setParticipants(participants []string) {
	o.participants = append([]string(nil), participants...)
	if len(o.participants) == 0 {
		o.turnIndex = 0
		return
	}
	o.turnIndex %= len(o.participants)
}

func (o *Orchestrator) setContinuous(on bool) {
	if o.continuous == on {
		return
	}
	o.continuous = on
	o.cancelTimer()
	if on && !o.busyLocked() {
		o.arm(o.config.ContinuousDelay, TriggerContinuous)
	}
	o.logger.Info("continuous play changed",
		zap.String("conversation_id", o.conversationID),
		zap.Bool("on", on))
}

// arm replaces the pending timer.
func (o *Orchestrator) arm(d time.Duration, trigger Trigger) {
	o.cancelTimer()
	o.timerGen++
	ev := Event{Type: eventTimer, epoch: o.epoch, gen: o.timerGen, trigger: trigger}
	o.timer = o.clock.AfterFunc(d, func() { _ = o.Dispatch(ev) })
}

func (o *Orchestrator) cancelTimer() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.timerGen++
}

func (o *Orchestrator) startTurn(agentID string, trigger Trigger) func() {
	o.inflight[o.conversationID] = agentID
	epoch := o.epoch
	conversationID := o.conversationID
	runner := o.runner
	ctx := o.ctx
	return func() {
		started := o.clock.Now()
		err := runner.RunTurn(ctx, conversationID, agentID)
		o.complete(epoch, TurnReport{
			ConversationID: conversationID,
			AgentID:        agentID,
			Trigger:        trigger,
			Err:            err,
			Duration:       o.clock.Now().Sub(started),
		})
	}
}

func (o *Orchestrator) complete(epoch uint64, report TurnReport) {
	o.mu.Lock()
	onTurn, onError := o.onTurn, o.onError
	delete(o.inflight, report.ConversationID)
	if epoch != o.epoch {
		// 同一会话被重新绑定时，继续播放在旧回合结束后才开始计时
		if o.bound && o.conversationID == report.ConversationID && o.continuous && o.timer == nil {
			o.arm(o.config.ContinuousDelay, TriggerContinuous)
		}
		o.mu.Unlock()
		report.Stale = true
		o.logger.Debug("discarding stale turn", zap.String("agent_id", report.AgentID))
		if onTurn != nil {
			onTurn(report)
		}
		return
	}

	if report.Err != nil {
		if o.continuous {
			o.continuous = false
			o.cancelTimer()
		}
		o.logger.Warn("turn failed",
			zap.String("conversation_id", report.ConversationID),
			zap.String("agent_id", report.AgentID),
			zap.String("trigger", string(report.Trigger)),
			zap.Error(report.Err))
	} else if n := len(o.participants); n > 0 {
		if report.Trigger == TriggerForce {
			if i := indexOf(o.participants, report.AgentID); i >= 0 {
				o.turnIndex = (i + 1) % n
			}
		} else {
			o.turnIndex = (o.turnIndex + 1) % n
		}
		if o.continuous {
			o.arm(o.config.ContinuousDelay, TriggerContinuous)
		}
	}
	o.mu.Unlock()

	if onTurn != nil {
		onTurn(report)
	}
	if report.Err != nil && onError != nil {
		onError(report.ConversationID, report.AgentID, report.Err)
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

func (o *Orchestrator) stateLocked() State {
	switch {
	case !o.bound:
		return StateIdle
	case o.continuous:
		return StateContinuousPlaying
	case o.auto:
		return StateAutoWaiting
	default:
		return StateManualWaiting
	}
}

// Status returns a snapshot for display.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:          o.stateLocked(),
		ConversationID: o.conversationID,
		Participants:   append([]string{}, o.participants...),
		TurnIndex:      o.turnIndex,
		AutoMode:       o.auto,
		Continuous:     o.continuous,
		Busy:           o.busyLocked(),
		Speaking:       o.inflight[o.conversationID],
	}
}

// ConversationID returns the bound conversation, or "" when idle.
func (o *Orchestrator) ConversationID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conversationID
}

// IsContinuous reports whether continuous play is on.
func (o *Orchestrator) IsContinuous() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.continuous
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
