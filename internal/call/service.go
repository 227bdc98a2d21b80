package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/audit"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/notify"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/repository"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/worker"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

const (
	DefaultRingTimeout       = 3 * time.Minute
	DefaultTerminalRetention = 24 * time.Hour
)

// Signaling results recorded in metrics.
const (
	resultOK        = "ok"
	resultError     = "error"
	resultBusy      = "busy"
	resultDuplicate = "duplicate"
	resultEnded     = "ended"
	resultDiscarded = "discarded"
)

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	RingTimeout       time.Duration
	TerminalRetention time.Duration
	Metrics           *metrics.Metrics
	// Events receives call.invited and call.accepted. Optional.
	Events EventPublisher
	// Tasks runs history writes, pushes and event publishing.
	Tasks *worker.Group
	// Ledger is consulted for channel ids with no in-memory state. Optional.
	Ledger ChannelLedger
}

type service struct {
	registry *presence.Registry
	users    Users
	notifier notify.Dispatcher
	history  HistorySink
	events   EventPublisher
	ledger   ChannelLedger
	tasks    *worker.Group
	metrics  *metrics.Metrics

	ringTimeout       time.Duration
	terminalRetention time.Duration
	now               func() time.Time

	// Lock order: a channel lock, then mu. Never take a channel lock while
	// holding mu.
	locks *keyedMutex

	mu       sync.Mutex
	sessions map[string]*session  // channelID -> in-flight call
	terminal map[string]time.Time // channelID -> ended at
	stopped  bool
}

// NewService creates the call signaling service.
func NewService(registry *presence.Registry, users Users, notifier notify.Dispatcher, history HistorySink, opts Options) Service {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.TerminalRetention <= 0 {
		opts.TerminalRetention = DefaultTerminalRetention
	}
	if opts.Tasks == nil {
		opts.Tasks = worker.NewGroup(worker.DefaultTimeout)
	}
	return &service{
		registry:          registry,
		users:             users,
		notifier:          notifier,
		history:           history,
		events:            opts.Events,
		ledger:            opts.Ledger,
		tasks:             opts.Tasks,
		metrics:           opts.Metrics,
		ringTimeout:       opts.RingTimeout,
		terminalRetention: opts.TerminalRetention,
		now:               time.Now,
		locks:             newKeyedMutex(),
		sessions:          make(map[string]*session),
		terminal:          make(map[string]time.Time),
	}
}

func (s *service) Invite(ctx context.Context, from presence.Conn, req *domain.CallInviteRequest) error {
	const msgType = domain.MsgTypeCallInvite
	callerID := from.UserID()
	if req.ChannelID == "" {
		return s.fail(from, "", msgType, domain.Validation("channelId is required"))
	}

	unlock := s.locks.Lock(req.ChannelID)
	defer unlock()

	terminal, err := s.terminalChannel(ctx, req.ChannelID)
	if err != nil {
		return s.fail(from, req.ChannelID, msgType, err)
	}
	if terminal {
		return s.echoEnded(from, req.ChannelID, msgType)
	}
	if err := validateInvite(callerID, req); err != nil {
		return s.fail(from, req.ChannelID, msgType, err)
	}
	if s.current(req.ChannelID) != nil {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldChannelID, req.ChannelID).Msg("duplicate invite dropped")
		s.metrics.RecordSignaling(msgType, resultDuplicate)
		return nil
	}

	callee, err := s.users.GetByID(ctx, req.CalleeID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			err = domain.NotFound("user %s not found", req.CalleeID)
		} else {
			err = fmt.Errorf("lookup callee: %w", err)
		}
		return s.fail(from, req.ChannelID, msgType, err)
	}
	if !callee.IsActive {
		return s.fail(from, req.ChannelID, msgType, domain.NotFound("user %s not found", req.CalleeID))
	}
	callerName := callerID
	if caller, err := s.users.GetByID(ctx, callerID); err == nil {
		if name := caller.DisplayName(); name != "" {
			callerName = name
		}
	} else {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("caller lookup failed, using id as display name")
	}

	sess := &session{
		channelID:   req.ChannelID,
		callerID:    callerID,
		callerName:  callerName,
		calleeID:    req.CalleeID,
		calleeToken: callee.DeviceToken,
		callType:    req.CallType,
		offer:       req.Offer,
		createdAt:   s.now(),
		state:       stateInvited,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return s.fail(from, req.ChannelID, msgType, domain.Conflict("call signaling is shutting down"))
	}
	if s.busyLocked(callerID) || s.busyLocked(req.CalleeID) {
		s.mu.Unlock()
		from.Send(&domain.CallPeerEvent{Type: domain.MsgTypeCallBusy, ChannelID: req.ChannelID, CalleeID: req.CalleeID})
		s.metrics.RecordSignaling(msgType, resultBusy)
		return domain.Conflict("caller or callee is already in a call")
	}
	s.sessions[req.ChannelID] = sess
	sess.timer = time.AfterFunc(s.ringTimeout, func() { s.expire(sess) })
	s.mu.Unlock()
	s.metrics.CallStarted()

	invite := &domain.CallInviteEvent{
		Type:       domain.MsgTypeCallInvite,
		ChannelID:  sess.channelID,
		CallType:   sess.callType,
		CallerID:   sess.callerID,
		CallerName: sess.callerName,
		CalleeID:   sess.calleeID,
		Offer:      sess.offer,
	}
	if !s.registry.Send(sess.calleeID, invite) {
		from.Send(&domain.CallPeerEvent{Type: domain.MsgTypeCallUnavailable, ChannelID: sess.channelID, CalleeID: sess.calleeID})
	}
	s.pushIncoming(sess)
	s.publish(kafka.EventCallInvited, sess)

	audit.LogTarget(ctx, audit.ActionCallInvite, callerID, sess.channelID, "call invited")
	s.metrics.RecordSignaling(msgType, resultOK)
	return nil
}

func (s *service) Accept(ctx context.Context, from presence.Conn, req *domain.CallAcceptRequest) error {
	const msgType = domain.MsgTypeCallAccept
	if req.ChannelID == "" {
		return s.fail(from, "", msgType, domain.Validation("channelId is required"))
	}

	unlock := s.locks.Lock(req.ChannelID)
	defer unlock()

	sess, err := s.participant(ctx, from, req.ChannelID, msgType, true)
	if sess == nil {
		return err
	}
	if req.CallerID != "" && req.CallerID != sess.callerID {
		return s.fail(from, req.ChannelID, msgType, domain.Validation("callerId does not match the call"))
	}
	if sess.state != stateInvited {
		return s.fail(from, req.ChannelID, msgType, domain.Conflict("call already accepted"))
	}
	if err := validateAnswer(req.Answer); err != nil {
		return s.fail(from, req.ChannelID, msgType, err)
	}

	sess.timer.Stop()
	accepted := &domain.CallAcceptedEvent{
		Type:      domain.MsgTypeCallAccepted,
		ChannelID: sess.channelID,
		CallerID:  sess.callerID,
		Answer:    req.Answer,
	}
	if !s.registry.Send(sess.callerID, accepted) {
		s.discard(sess)
		from.Send(domain.NewCallEnded(sess.channelID))
		l := log.Ctx(ctx)
		l.Info().Str(log.FieldChannelID, sess.channelID).Str(log.FieldPeerID, sess.callerID).
			Msg("caller unreachable on accept, call discarded")
		s.metrics.RecordSignaling(msgType, resultDiscarded)
		return nil
	}

	sess.state = stateAccepted
	sess.acceptedAt = s.now()
	s.publish(kafka.EventCallAccepted, sess)

	audit.LogTarget(ctx, audit.ActionCallAccept, sess.calleeID, sess.channelID, "call accepted")
	s.metrics.RecordSignaling(msgType, resultOK)
	return nil
}

func (s *service) Reject(ctx context.Context, from presence.Conn, req *domain.CallChannelRequest) error {
	const msgType = domain.MsgTypeCallReject
	if req.ChannelID == "" {
		return s.fail(from, "", msgType, domain.Validation("channelId is required"))
	}

	unlock := s.locks.Lock(req.ChannelID)
	defer unlock()

	sess, err := s.participant(ctx, from, req.ChannelID, msgType, true)
	if sess == nil {
		return err
	}
	if sess.state != stateInvited {
		return s.fail(from, req.ChannelID, msgType, domain.Conflict("call already accepted, end it instead"))
	}

	s.finish(sess, domain.OutcomeRejected)
	s.registry.Send(sess.callerID, domain.NewCallRejected(sess.channelID))
	from.Send(domain.NewCallEnded(sess.channelID))

	audit.LogTarget(ctx, audit.ActionCallReject, sess.calleeID, sess.channelID, "call rejected")
	s.metrics.RecordSignaling(msgType, resultOK)
	return nil
}

func (s *service) End(ctx context.Context, from presence.Conn, req *domain.CallChannelRequest) error {
	const msgType = domain.MsgTypeCallEnd
	if req.ChannelID == "" {
		return s.fail(from, "", msgType, domain.Validation("channelId is required"))
	}

	unlock := s.locks.Lock(req.ChannelID)
	defer unlock()

	sess, err := s.participant(ctx, from, req.ChannelID, msgType, false)
	if sess == nil {
		return err
	}

	userID := from.UserID()
	outcome := endOutcome(sess, userID)
	s.finish(sess, outcome)
	s.registry.Send(sess.peerOf(userID), domain.NewCallEnded(sess.channelID))
	from.Send(domain.NewCallEnded(sess.channelID))
	if outcome == domain.OutcomeMissed {
		s.pushMissed(sess)
	}

	audit.LogTarget(ctx, audit.ActionCallEnd, userID, sess.channelID, "call ended: "+string(outcome))
	s.metrics.RecordSignaling(msgType, resultOK)
	return nil
}

func (s *service) RequestOffer(ctx context.Context, from presence.Conn, req *domain.CallChannelRequest) error {
	const msgType = domain.MsgTypeCallOfferRequest
	if req.ChannelID == "" {
		return s.fail(from, "", msgType, domain.Validation("channelId is required"))
	}

	unlock := s.locks.Lock(req.ChannelID)
	defer unlock()

	sess, err := s.participant(ctx, from, req.ChannelID, msgType, true)
	if sess == nil {
		return err
	}
	from.Send(&domain.CallOfferEvent{Type: domain.MsgTypeCallOffer, ChannelID: sess.channelID, Offer: sess.offer})
	s.metrics.RecordSignaling(msgType, resultOK)
	return nil
}

func (s *service) RelayICECandidate(ctx context.Context, from presence.Conn, req *domain.ICECandidateRequest) error {
	const msgType = domain.MsgTypeICECandidate
	if req.ChannelID == "" {
		return s.fail(from, "", msgType, domain.Validation("channelId is required"))
	}

	unlock := s.locks.Lock(req.ChannelID)
	defer unlock()

	sess, err := s.participant(ctx, from, req.ChannelID, msgType, false)
	if sess == nil {
		return err
	}
	if err := validateCandidate(req.Candidate); err != nil {
		return s.fail(from, req.ChannelID, msgType, err)
	}
	userID := from.UserID()
	s.registry.Send(sess.peerOf(userID), &domain.ICECandidateEvent{
		Type:       domain.MsgTypeICECandidate,
		ChannelID:  sess.channelID,
		Candidate:  req.Candidate,
		FromUserID: userID,
	})
	s.metrics.RecordSignaling(msgType, resultOK)
	return nil
}

func (s *service) Disconnect(ctx context.Context, userID string) {
	s.mu.Lock()
	var channels []string
	for id, sess := range s.sessions {
		if sess.involves(userID) {
			channels = append(channels, id)
		}
	}
	s.mu.Unlock()

	for _, id := range channels {
		s.dropParticipant(ctx, id, userID)
	}
}

func (s *service) dropParticipant(ctx context.Context, channelID, userID string) {
	unlock := s.locks.Lock(channelID)
	defer unlock()

	sess := s.current(channelID)
	if sess == nil || !sess.involves(userID) {
		return
	}
	outcome := domain.OutcomeMissed
	if sess.state == stateAccepted {
		outcome = domain.OutcomeAnswered
	}
	s.finish(sess, outcome)
	s.registry.Send(sess.peerOf(userID), domain.NewCallEnded(channelID))
	if outcome == domain.OutcomeMissed {
		s.pushMissed(sess)
	}
	audit.LogTarget(ctx, audit.ActionCallEnd, userID, channelID, "call ended by disconnect: "+string(outcome))
}

// expire ends sess if it is still ringing when its timer fires.
func (s *service) expire(sess *session) {
	unlock := s.locks.Lock(sess.channelID)
	defer unlock()

	if s.current(sess.channelID) != sess || sess.state != stateInvited {
		return
	}
	s.finish(sess, domain.OutcomeMissed)
	ended := domain.NewCallEnded(sess.channelID)
	s.registry.Send(sess.callerID, ended)
	s.registry.Send(sess.calleeID, ended)
	s.pushMissed(sess)

	l := log.L()
	ctx := log.WithLogger(context.Background(), l.With().Str(log.FieldChannelID, sess.channelID).Logger())
	audit.LogTarget(ctx, audit.ActionCallTimeout, sess.callerID, sess.channelID, "call unanswered, ring timeout")
}

func (s *service) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepTerminal()
		}
	}
}

func (s *service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, sess := range s.sessions {
		sess.timer.Stop()
	}
}

// participant loads the session of channelID and checks the sender takes
// part in it, or is its callee when calleeOnly is set. On failure it has
// already replied and returns a nil session with the reported error.
func (s *service) participant(ctx context.Context, from presence.Conn, channelID, msgType string, calleeOnly bool) (*session, error) {
	terminal, err := s.terminalChannel(ctx, channelID)
	if err != nil {
		return nil, s.fail(from, channelID, msgType, err)
	}
	if terminal {
		return nil, s.echoEnded(from, channelID, msgType)
	}
	sess := s.current(channelID)
	if sess == nil {
		return nil, s.fail(from, channelID, msgType, domain.NotFound("call %s not found", channelID))
	}
	userID := from.UserID()
	if calleeOnly && sess.calleeID != userID {
		return nil, s.fail(from, channelID, msgType, domain.AccessDenied("%s is only allowed for the callee", msgType))
	}
	if !sess.involves(userID) {
		return nil, s.fail(from, channelID, msgType, domain.AccessDenied("not a participant of call %s", channelID))
	}
	return sess, nil
}

// finish moves sess to its terminal state and hands off its history
// record. The caller holds the channel lock.
func (s *service) finish(sess *session, outcome domain.CallOutcome) {
	sess.timer.Stop()
	now := s.now()

	s.mu.Lock()
	delete(s.sessions, sess.channelID)
	s.terminal[sess.channelID] = now
	s.mu.Unlock()

	record := sess.history(uuid.New().String(), outcome, now)
	var seconds float64
	if outcome == domain.OutcomeAnswered {
		seconds = now.Sub(sess.acceptedAt).Seconds()
	}
	s.metrics.CallEnded(string(outcome), seconds)
	s.tasks.Go("call.history", func(ctx context.Context) error {
		return s.history.RecordCall(ctx, record)
	})
}

// discard drops sess without a terminal marker or history record.
func (s *service) discard(sess *session) {
	sess.timer.Stop()
	s.mu.Lock()
	delete(s.sessions, sess.channelID)
	s.mu.Unlock()
	s.metrics.CallDiscarded()
}

func (s *service) current(channelID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[channelID]
}

// terminalChannel reports whether channelID has ended. A channel with no
// in-memory state is looked up in the ledger, and a hit restores its
// marker. The caller holds the channel lock.
func (s *service) terminalChannel(ctx context.Context, channelID string) (bool, error) {
	s.mu.Lock()
	_, ended := s.terminal[channelID]
	_, live := s.sessions[channelID]
	s.mu.Unlock()
	if ended {
		return true, nil
	}
	if live || s.ledger == nil {
		return false, nil
	}

	found, err := s.ledger.ExistsByChannel(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("lookup channel %s: %w", channelID, err)
	}
	if found {
		s.mu.Lock()
		s.terminal[channelID] = s.now()
		s.mu.Unlock()
	}
	return found, nil
}

// busyLocked reports whether userID takes part in any in-flight call.
// The caller holds mu.
func (s *service) busyLocked(userID string) bool {
	for _, sess := range s.sessions {
		if sess.involves(userID) {
			return true
		}
	}
	return false
}

func (s *service) sweepTerminal() int {
	cutoff := s.now().Add(-s.terminalRetention)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, at := range s.terminal {
		if at.Before(cutoff) {
			delete(s.terminal, id)
			n++
		}
	}
	return n
}

func (s *service) fail(from presence.Conn, channelID, msgType string, err error) error {
	from.Send(domain.NewCallError(channelID, err))
	s.metrics.RecordSignaling(msgType, resultError)
	return err
}

func (s *service) echoEnded(from presence.Conn, channelID, msgType string) error {
	from.Send(domain.NewCallEnded(channelID))
	s.metrics.RecordSignaling(msgType, resultEnded)
	return domain.TerminalChannel(channelID)
}

func (s *service) pushIncoming(sess *session) {
	token := sess.calleeToken
	alert := notify.IncomingCallAlert{
		ChannelID:  sess.channelID,
		CallerID:   sess.callerID,
		CallerName: sess.callerName,
		CalleeID:   sess.calleeID,
		CallType:   sess.callType,
	}
	s.tasks.Go("push.incoming_call", func(ctx context.Context) error {
		return ignoreNoToken(s.notifier.SendIncomingCallAlert(ctx, token, alert))
	})
}

func (s *service) pushMissed(sess *session) {
	token := sess.calleeToken
	alert := notify.MissedCallAlert{
		ChannelID:  sess.channelID,
		CallerID:   sess.callerID,
		CallerName: sess.callerName,
		CalleeID:   sess.calleeID,
		CallType:   sess.callType,
	}
	s.tasks.Go("push.missed_call", func(ctx context.Context) error {
		return ignoreNoToken(s.notifier.SendMissedCallAlert(ctx, token, alert))
	})
}

func (s *service) publish(eventType string, sess *session) {
	if s.events == nil {
		return
	}
	event := &kafka.CallEvent{
		Type:      eventType,
		ChannelID: sess.channelID,
		CallerID:  sess.callerID,
		CalleeID:  sess.calleeID,
		CallType:  sess.callType,
		Timestamp: s.now().Unix(),
	}
	s.tasks.Go("event."+eventType, func(ctx context.Context) error {
		return s.events.PublishCallEvent(ctx, event)
	})
}

func ignoreNoToken(err error) error {
	if errors.Is(err, notify.ErrNoDeviceToken) {
		return nil
	}
	return err
}

// endOutcome classifies an explicit call-end by userID.
func endOutcome(sess *session, userID string) domain.CallOutcome {
	switch {
	case sess.state == stateAccepted:
		return domain.OutcomeAnswered
	case userID == sess.calleeID:
		return domain.OutcomeRejected
	default:
		return domain.OutcomeMissed
	}
}

func validateInvite(callerID string, req *domain.CallInviteRequest) error {
	if req.CalleeID == "" {
		return domain.Validation("calleeId is required")
	}
	if req.CallerID != "" && req.CallerID != callerID {
		return domain.Validation("callerId does not match the connection")
	}
	if req.CalleeID == callerID {
		return domain.Validation("cannot call yourself")
	}
	if !req.CallType.Valid() {
		return domain.Validation("callType must be audio or video")
	}
	return validateOffer(req.Offer)
}
