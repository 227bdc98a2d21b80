package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/notify"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence/presencetest"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/repository"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/worker"
)

const (
	testOffer  = `{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`
	testAnswer = `{"type":"answer","sdp":"v=0\r\no=- 3 4 IN IP4 127.0.0.1\r\n"}`
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) add(id, name string, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &domain.User{ID: id, Name: name, DeviceToken: "token-" + id, IsActive: active}
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.MessageAlert
	incoming []notify.IncomingCallAlert
	missed   []notify.MissedCallAlert
	tokens   []string
}

func (n *recordingNotifier) SendMessageAlert(_ context.Context, token string, alert notify.MessageAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, alert)
	n.tokens = append(n.tokens, token)
	return nil
}

func (n *recordingNotifier) SendIncomingCallAlert(_ context.Context, token string, alert notify.IncomingCallAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.incoming = append(n.incoming, alert)
	n.tokens = append(n.tokens, token)
	return nil
}

func (n *recordingNotifier) SendMissedCallAlert(_ context.Context, token string, alert notify.MissedCallAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.missed = append(n.missed, alert)
	n.tokens = append(n.tokens, token)
	return nil
}

func (n *recordingNotifier) counts() (incoming, missed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.incoming), len(n.missed)
}

type recordingSink struct {
	mu      sync.Mutex
	records []*domain.CallHistory
	lookups int
	err     error
}

func (r *recordingSink) RecordCall(_ context.Context, record *domain.CallHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *recordingSink) ExistsByChannel(_ context.Context, channelID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.err != nil {
		return false, r.err
	}
	for _, rec := range r.records {
		if rec.ChannelID == channelID {
			return true, nil
		}
	}
	return false, nil
}

func (r *recordingSink) failLookups(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingSink) lookupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

func (r *recordingSink) all() []*domain.CallHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.CallHistory(nil), r.records...)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []*kafka.CallEvent
}

func (r *recordingEvents) PublishCallEvent(_ context.Context, event *kafka.CallEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc      *service
	registry *presence.Registry
	users    *fakeUsers
	notifier *recordingNotifier
	sink     *recordingSink
	events   *recordingEvents
	tasks    *worker.Group
	clock    *fakeClock
}

func newFixture(t *testing.T, ringTimeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		registry: presence.NewRegistry(),
		users:    &fakeUsers{users: make(map[string]*domain.User)},
		notifier: &recordingNotifier{},
		sink:     &recordingSink{},
		events:   &recordingEvents{},
		tasks:    worker.NewGroup(time.Second),
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.users.add("alice", "Alice", true)
	f.users.add("bob", "Bob", true)
	f.users.add("carol", "Carol", true)
	f.users.add("dave", "Dave", false)

	svc := NewService(f.registry, f.users, f.notifier, f.sink, Options{
		RingTimeout: ringTimeout,
		Events:      f.events,
		Tasks:       f.tasks,
		Ledger:      f.sink,
	}).(*service)
	svc.now = f.clock.Now
	f.svc = svc
	t.Cleanup(svc.Stop)
	return f
}

func (f *fixture) connect(userID string) *presencetest.Conn {
	c := presencetest.NewConn("conn-"+userID, userID)
	f.registry.Register(userID, c)
	return c
}

func (f *fixture) invite(from presence.Conn, channelID, calleeID string) error {
	return f.svc.Invite(context.Background(), from, &domain.CallInviteRequest{
		Type:      domain.MsgTypeCallInvite,
		ChannelID: channelID,
		CalleeID:  calleeID,
		CallType:  domain.CallTypeVideo,
		Offer:     json.RawMessage(testOffer),
	})
}

func (f *fixture) accept(from presence.Conn, channelID string) error {
	return f.svc.Accept(context.Background(), from, &domain.CallAcceptRequest{
		Type:      domain.MsgTypeCallAccept,
		ChannelID: channelID,
		Answer:    json.RawMessage(testAnswer),
	})
}

func (f *fixture) end(from presence.Conn, channelID string) error {
	return f.svc.End(context.Background(), from, &domain.CallChannelRequest{Type: domain.MsgTypeCallEnd, ChannelID: channelID})
}

func (f *fixture) reject(from presence.Conn, channelID string) error {
	return f.svc.Reject(context.Background(), from, &domain.CallChannelRequest{Type: domain.MsgTypeCallReject, ChannelID: channelID})
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func errorCode(t *testing.T, c *presencetest.Conn) string {
	t.Helper()
	frame, ok := c.Last(domain.MsgTypeCallError)
	if !ok {
		t.Fatalf("no call-error frame, got %v", c.Types())
	}
	code, _ := frame["code"].(string)
	return code
}

func TestAnsweredCallLifecycle(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	bob := f.connect("bob")

	if err := f.invite(alice, "abc", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if n := bob.Count(domain.MsgTypeCallInvite); n != 1 {
		t.Fatalf("bob got %d invites, want 1", n)
	}
	invite, _ := bob.Last(domain.MsgTypeCallInvite)
	if invite["callerName"] != "Alice" || invite["callerId"] != "alice" || invite["callType"] != "video" {
		t.Errorf("invite = %v", invite)
	}
	offer, _ := invite["offer"].(map[string]interface{})
	if offer["type"] != "offer" || offer["sdp"] != "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n" {
		t.Errorf("offer not relayed unchanged: %v", offer)
	}

	if err := f.accept(bob, "abc"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if n := alice.Count(domain.MsgTypeCallAccepted); n != 1 {
		t.Fatalf("alice got %d call-accepted, want 1", n)
	}
	accepted, _ := alice.Last(domain.MsgTypeCallAccepted)
	answer, _ := accepted["answer"].(map[string]interface{})
	if answer["type"] != "answer" {
		t.Errorf("answer = %v", answer)
	}

	f.clock.Advance(42 * time.Second)
	if err := f.end(alice, "abc"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if alice.Count(domain.MsgTypeCallEnded) != 1 || bob.Count(domain.MsgTypeCallEnded) != 1 {
		t.Errorf("call-ended frames: alice %v, bob %v", alice.Types(), bob.Types())
	}
	f.tasks.Wait()

	records := f.sink.all()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Outcome != domain.OutcomeAnswered || rec.DurationSeconds != 42 {
		t.Errorf("record = %+v", rec)
	}
	if rec.ChannelID != "abc" || rec.CallerID != "alice" || rec.CalleeID != "bob" || rec.CallType != domain.CallTypeVideo {
		t.Errorf("record identity = %+v", rec)
	}
	if incoming, missed := f.notifier.counts(); incoming != 1 || missed != 0 {
		t.Errorf("pushes incoming=%d missed=%d", incoming, missed)
	}
	if got := f.events.types(); len(got) != 2 {
		t.Errorf("events = %v", got)
	}
	if f.svc.ActiveCalls() != 0 {
		t.Errorf("ActiveCalls = %d", f.svc.ActiveCalls())
	}
}

func TestOfflineCalleeRingTimeout(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	alice := f.connect("alice")

	if err := f.invite(alice, "xyz", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	unavailable, ok := alice.Last(domain.MsgTypeCallUnavailable)
	if !ok || unavailable["calleeId"] != "bob" {
		t.Fatalf("alice frames = %v", alice.Types())
	}

	waitFor(t, func() bool {
		_, missed := f.notifier.counts()
		return missed == 1 && len(f.sink.all()) == 1
	}, "ring timeout")
	f.tasks.Wait()

	if incoming, _ := f.notifier.counts(); incoming != 1 {
		t.Errorf("incoming pushes = %d, want 1", incoming)
	}
	f.notifier.mu.Lock()
	for _, token := range f.notifier.tokens {
		if token != "token-bob" {
			t.Errorf("push token = %q, want token-bob", token)
		}
	}
	f.notifier.mu.Unlock()
	if f.svc.ActiveCalls() != 0 {
		t.Errorf("ActiveCalls = %d", f.svc.ActiveCalls())
	}

	records := f.sink.all()
	if len(records) != 1 || records[0].Outcome != domain.OutcomeMissed || records[0].DurationSeconds != 0 {
		t.Fatalf("records = %+v", records)
	}
	if alice.Count(domain.MsgTypeCallEnded) != 1 {
		t.Errorf("alice frames = %v", alice.Types())
	}
}

func TestAcceptCancelsRingTimer(t *testing.T) {
	f := newFixture(t, 40*time.Millisecond)
	alice := f.connect("alice")
	bob := f.connect("bob")

	if err := f.invite(alice, "ch", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if err := f.accept(bob, "ch"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	if f.svc.ActiveCalls() != 1 {
		t.Fatalf("accepted call ended by ring timer")
	}
	if bob.Count(domain.MsgTypeCallEnded) != 0 {
		t.Errorf("bob frames = %v", bob.Types())
	}
}

func TestRejectBeforeAnswer(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	bob := f.connect("bob")

	if err := f.invite(alice, "ch", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if err := f.reject(bob, "ch"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if alice.Count(domain.MsgTypeCallRejected) != 1 {
		t.Errorf("alice frames = %v", alice.Types())
	}
	if bob.Count(domain.MsgTypeCallEnded) != 1 {
		t.Errorf("bob frames = %v", bob.Types())
	}
	f.tasks.Wait()

	records := f.sink.all()
	if len(records) != 1 || records[0].Outcome != domain.OutcomeRejected || records[0].DurationSeconds != 0 {
		t.Fatalf("records = %+v", records)
	}
	if _, missed := f.notifier.counts(); missed != 0 {
		t.Errorf("missed pushes = %d", missed)
	}
}

func TestEndBeforeAnswerOutcome(t *testing.T) {
	tests := []struct {
		name       string
		ender      string
		want       domain.CallOutcome
		wantMissed int
	}{
		{"caller cancels", "alice", domain.OutcomeMissed, 1},
		{"callee declines", "bob", domain.OutcomeRejected, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Minute)
			conns := map[string]*presencetest.Conn{"alice": f.connect("alice"), "bob": f.connect("bob")}

			if err := f.invite(conns["alice"], "ch", "bob"); err != nil {
				t.Fatalf("Invite: %v", err)
			}
			if err := f.end(conns[tt.ender], "ch"); err != nil {
				t.Fatalf("End: %v", err)
			}
			f.tasks.Wait()

			records := f.sink.all()
			if len(records) != 1 || records[0].Outcome != tt.want {
				t.Fatalf("records = %+v, want outcome %s", records, tt.want)
			}
			if _, missed := f.notifier.counts(); missed != tt.wantMissed {
				t.Errorf("missed pushes = %d, want %d", missed, tt.wantMissed)
			}
			for user, c := range conns {
				if c.Count(domain.MsgTypeCallEnded) != 1 {
					t.Errorf("%s frames = %v", user, c.Types())
				}
			}
		})
	}
}

func TestTerminalChannelEchoesEnded(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	bob := f.connect("bob")

	if err := f.invite(alice, "ch", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if err := f.reject(bob, "ch"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	f.tasks.Wait()
	alice.Reset()
	bob.Reset()

	actions := map[string]func() error{
		"invite": func() error { return f.invite(alice, "ch", "bob") },
		"accept": func() error { return f.accept(bob, "ch") },
		"reject": func() error { return f.reject(bob, "ch") },
		"end":    func() error { return f.end(alice, "ch") },
		"offer": func() error {
			return f.svc.RequestOffer(context.Background(), bob, &domain.CallChannelRequest{ChannelID: "ch"})
		},
		"ice": func() error {
			return f.svc.RelayICECandidate(context.Background(), alice, &domain.ICECandidateRequest{
				ChannelID: "ch", Candidate: json.RawMessage(`{"candidate":"x"}`),
			})
		},
	}
	for name, action := range actions {
		err := action()
		if !errors.Is(err, domain.ErrTerminalChannel) {
			t.Errorf("%s: err = %v, want terminal channel", name, err)
		}
	}

	if n := alice.Count(domain.MsgTypeCallEnded) + bob.Count(domain.MsgTypeCallEnded); n != len(actions) {
		t.Errorf("call-ended echoes = %d, want %d", n, len(actions))
	}
	if bob.Count(domain.MsgTypeCallInvite) != 0 || alice.Count(domain.MsgTypeCallAccepted) != 0 {
		t.Error("terminal channel relayed a call frame")
	}
	f.tasks.Wait()
	if incoming, _ := f.notifier.counts(); incoming != 1 {
		t.Errorf("incoming pushes = %d, want 1", incoming)
	}
	if len(f.sink.all()) != 1 {
		t.Errorf("records = %d, want 1", len(f.sink.all()))
	}
	if f.svc.ActiveCalls() != 0 {
		t.Errorf("terminal channel reactivated")
	}
}

func TestDuplicateInviteDropped(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	bob := f.connect("bob")

	for i := 0; i < 3; i++ {
		if err := f.invite(alice, "ch", "bob"); err != nil {
			t.Fatalf("Invite %d: %v", i, err)
		}
	}
	f.tasks.Wait()

	if n := bob.Count(domain.MsgTypeCallInvite); n != 1 {
		t.Errorf("invites = %d, want 1", n)
	}
	if incoming, _ := f.notifier.counts(); incoming != 1 {
		t.Errorf("incoming pushes = %d, want 1", incoming)
	}
	if len(alice.Frames()) != 0 {
		t.Errorf("duplicate invite answered: %v", alice.Types())
	}
}

func TestBusyGuard(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	bob := f.connect("bob")
	carol := f.connect("carol")

	if err := f.invite(alice, "ch1", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if err := f.invite(carol, "ch2", "bob"); err == nil {
		t.Fatal("busy callee accepted a second call")
	}
	busy, ok := carol.Last(domain.MsgTypeCallBusy)
	if !ok || busy["calleeId"] != "bob" || busy["channelId"] != "ch2" {
		t.Fatalf("carol frames = %v", carol.Types())
	}
	if err := f.invite(bob, "ch3", "carol"); err == nil {
		t.Fatal("busy caller started a second call")
	}
	if bob.Count(domain.MsgTypeCallBusy) != 1 {
		t.Errorf("bob frames = %v", bob.Types())
	}
	f.tasks.Wait()

	if incoming, _ := f.notifier.counts(); incoming != 1 {
		t.Errorf("incoming pushes = %d, want 1", incoming)
	}
	if f.svc.ActiveCalls() != 1 {
		t.Errorf("ActiveCalls = %d", f.svc.ActiveCalls())
	}

	if err := f.end(alice, "ch1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := f.invite(carol, "ch2", "bob"); err != nil {
		t.Errorf("invite after the busy call ended: %v", err)
	}
}

func TestConcurrentInvitesToOneCallee(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.connect("bob")

	const callers = 20
	conns := make([]*presencetest.Conn, callers)
	for i := range conns {
		id := fmt.Sprintf("caller-%d", i)
		f.users.add(id, id, true)
		conns[i] = f.connect(id)
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *presencetest.Conn) {
			defer wg.Done()
			_ = f.invite(c, fmt.Sprintf("ch-%d", i), "bob")
		}(i, c)
	}
	wg.Wait()

	if f.svc.ActiveCalls() != 1 {
		t.Fatalf("ActiveCalls = %d, want 1", f.svc.ActiveCalls())
	}
	busy := 0
	for _, c := range conns {
		busy += c.Count(domain.MsgTypeCallBusy)
	}
	if busy != callers-1 {
		t.Errorf("busy replies = %d, want %d", busy, callers-1)
	}
}

func TestSingleTerminalRecordUnderRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, 2*time.Millisecond)
		alice := f.connect("alice")
		bob := f.connect("bob")
		if err := f.invite(alice, "ch", "bob"); err != nil {
			t.Fatalf("Invite: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); _ = f.end(alice, "ch") }()
		go func() { defer wg.Done(); _ = f.reject(bob, "ch") }()
		go func() { defer wg.Done(); f.svc.Disconnect(context.Background(), "bob") }()
		wg.Wait()
		waitFor(t, func() bool { return len(f.sink.all()) > 0 }, "terminal record")
		time.Sleep(5 * time.Millisecond)
		f.tasks.Wait()

		if n := len(f.sink.all()); n != 1 {
			t.Fatalf("iteration %d: records = %d, want 1", i, n)
		}
	}
}

func TestInviteValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*domain.CallInviteRequest)
		wantCode string
	}{
		{"missing channel", func(r *domain.CallInviteRequest) { r.ChannelID = "" }, domain.CodeBadRequest},
		{"missing callee", func(r *domain.CallInviteRequest) { r.CalleeID = "" }, domain.CodeBadRequest},
		{"self call", func(r *domain.CallInviteRequest) { r.CalleeID = "alice" }, domain.CodeBadRequest},
		{"caller mismatch", func(r *domain.CallInviteRequest) { r.CallerID = "carol" }, domain.CodeBadRequest},
		{"bad call type", func(r *domain.CallInviteRequest) { r.CallType = "hologram" }, domain.CodeBadRequest},
		{"missing offer", func(r *domain.CallInviteRequest) { r.Offer = nil }, domain.CodeBadRequest},
		{"answer as offer", func(r *domain.CallInviteRequest) { r.Offer = json.RawMessage(testAnswer) }, domain.CodeBadRequest},
		{"empty sdp", func(r *domain.CallInviteRequest) { r.Offer = json.RawMessage(`{"type":"offer","sdp":""}`) }, domain.CodeBadRequest},
		{"unknown callee", func(r *domain.CallInviteRequest) { r.CalleeID = "nobody" }, domain.CodeNotFound},
		{"inactive callee", func(r *domain.CallInviteRequest) { r.CalleeID = "dave" }, domain.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Minute)
			alice := f.connect("alice")
			req := &domain.CallInviteRequest{
				ChannelID: "ch",
				CalleeID:  "bob",
				CallType:  domain.CallTypeAudio,
				Offer:     json.RawMessage(testOffer),
			}
			tt.mutate(req)

			if err := f.svc.Invite(context.Background(), alice, req); err == nil {
				t.Fatal("expected error")
			}
			if code := errorCode(t, alice); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
			if f.svc.ActiveCalls() != 0 {
				t.Error("invalid invite created a session")
			}
		})
	}
}

func TestAcceptChecks(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	bob := f.connect("bob")
	carol := f.connect("carol")
	if err := f.invite(alice, "ch", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}

	if err := f.accept(carol, "ch"); err == nil || errorCode(t, carol) != domain.CodeForbidden {
		t.Errorf("stranger accept: err = %v", err)
	}
	if err := f.accept(alice, "ch"); err == nil || errorCode(t, alice) != domain.CodeForbidden {
		t.Errorf("caller accept: err = %v", err)
	}
	if err := f.accept(bob, "missing"); err == nil || errorCode(t, bob) != domain.CodeNotFound {
		t.Errorf("unknown channel: err = %v", err)
	}
	bad := &domain.CallAcceptRequest{ChannelID: "ch", Answer: json.RawMessage(testOffer)}
	if err := f.svc.Accept(context.Background(), bob, bad); err == nil || errorCode(t, bob) != domain.CodeBadRequest {
		t.Errorf("offer as answer: err = %v", err)
	}
	wrongCaller := &domain.CallAcceptRequest{ChannelID: "ch", CallerID: "carol", Answer: json.RawMessage(testAnswer)}
	if err := f.svc.Accept(context.Background(), bob, wrongCaller); err == nil || errorCode(t, bob) != domain.CodeBadRequest {
		t.Errorf("caller mismatch: err = %v", err)
	}

	if err := f.accept(bob, "ch"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := f.accept(bob, "ch"); err == nil || errorCode(t, bob) != domain.CodeConflict {
		t.Errorf("second accept: err = %v", err)
	}
	if err := f.reject(bob, "ch"); err == nil || errorCode(t, bob) != domain.CodeConflict {
		t.Errorf("reject after accept: err = %v", err)
	}
	if n := alice.Count(domain.MsgTypeCallAccepted); n != 1 {
		t.Errorf("call-accepted frames = %d", n)
	}
}

func TestAcceptWithCallerGoneDiscards(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	bob := f.connect("bob")
	if err := f.invite(alice, "ch", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	f.registry.Unregister("alice", alice)

	if err := f.accept(bob, "ch"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if bob.Count(domain.MsgTypeCallEnded) != 1 {
		t.Errorf("bob frames = %v", bob.Types())
	}
	f.tasks.Wait()
	if len(f.sink.all()) != 0 {
		t.Errorf("discarded call wrote history")
	}
	if terminal, _ := f.svc.terminalChannel(context.Background(), "ch"); f.svc.ActiveCalls() != 0 || terminal {
		t.Errorf("discarded session left state behind")
	}

	alice = f.connect("alice")
	if err := f.invite(alice, "ch", "bob"); err != nil {
		t.Errorf("re-invite on discarded channel: %v", err)
	}
}

func TestRequestOffer(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	bob := f.connect("bob")
	if err := f.invite(alice, "ch", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}

	req := &domain.CallChannelRequest{ChannelID: "ch"}
	if err := f.svc.RequestOffer(context.Background(), bob, req); err != nil {
		t.Fatalf("RequestOffer: %v", err)
	}
	frame, ok := bob.Last(domain.MsgTypeCallOffer)
	if !ok {
		t.Fatalf("bob frames = %v", bob.Types())
	}
	if offer, _ := frame["offer"].(map[string]interface{}); offer["type"] != "offer" {
		t.Errorf("offer = %v", frame["offer"])
	}

	if err := f.svc.RequestOffer(context.Background(), alice, req); err == nil || errorCode(t, alice) != domain.CodeForbidden {
		t.Errorf("caller offer request: err = %v", err)
	}
}

func TestRelayICECandidate(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	bob := f.connect("bob")
	carol := f.connect("carol")
	if err := f.invite(alice, "ch", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}

	candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0"}`)
	if err := f.svc.RelayICECandidate(context.Background(), alice, &domain.ICECandidateRequest{ChannelID: "ch", Candidate: candidate}); err != nil {
		t.Fatalf("relay from caller: %v", err)
	}
	if err := f.svc.RelayICECandidate(context.Background(), bob, &domain.ICECandidateRequest{ChannelID: "ch", Candidate: candidate}); err != nil {
		t.Fatalf("relay from callee: %v", err)
	}
	toBob, ok := bob.Last(domain.MsgTypeICECandidate)
	if !ok || toBob["fromUserId"] != "alice" {
		t.Errorf("bob frames = %v", bob.Frames())
	}
	toAlice, ok := alice.Last(domain.MsgTypeICECandidate)
	if !ok || toAlice["fromUserId"] != "bob" {
		t.Errorf("alice frames = %v", alice.Frames())
	}

	if err := f.svc.RelayICECandidate(context.Background(), carol, &domain.ICECandidateRequest{ChannelID: "ch", Candidate: candidate}); err == nil || errorCode(t, carol) != domain.CodeForbidden {
		t.Errorf("stranger relay: err = %v", err)
	}
	if err := f.svc.RelayICECandidate(context.Background(), alice, &domain.ICECandidateRequest{ChannelID: "ch"}); err == nil || errorCode(t, alice) != domain.CodeBadRequest {
		t.Errorf("empty candidate: err = %v", err)
	}
}

func TestDisconnectEndsCalls(t *testing.T) {
	tests := []struct {
		name   string
		accept bool
		want   domain.CallOutcome
	}{
		{"while ringing", false, domain.OutcomeMissed},
		{"while connected", true, domain.OutcomeAnswered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Minute)
			alice := f.connect("alice")
			bob := f.connect("bob")
			if err := f.invite(alice, "ch", "bob"); err != nil {
				t.Fatalf("Invite: %v", err)
			}
			if tt.accept {
				if err := f.accept(bob, "ch"); err != nil {
					t.Fatalf("Accept: %v", err)
				}
			}

			f.registry.Unregister("bob", bob)
			f.svc.Disconnect(context.Background(), "bob")
			f.tasks.Wait()

			if alice.Count(domain.MsgTypeCallEnded) != 1 {
				t.Errorf("alice frames = %v", alice.Types())
			}
			records := f.sink.all()
			if len(records) != 1 || records[0].Outcome != tt.want {
				t.Fatalf("records = %+v", records)
			}
			if f.svc.ActiveCalls() != 0 {
				t.Errorf("ActiveCalls = %d", f.svc.ActiveCalls())
			}
		})
	}
}

func TestDisconnectIgnoresUninvolvedUser(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	f.connect("bob")
	if err := f.invite(alice, "ch", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	f.svc.Disconnect(context.Background(), "carol")
	if f.svc.ActiveCalls() != 1 {
		t.Errorf("unrelated disconnect ended a call")
	}
}

func TestSweptChannelStaysEnded(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	bob := f.connect("bob")
	if err := f.invite(alice, "ch", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if err := f.reject(bob, "ch"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	f.tasks.Wait()

	if n := f.svc.sweepTerminal(); n != 0 {
		t.Fatalf("swept %d fresh markers", n)
	}
	f.clock.Advance(DefaultTerminalRetention + time.Second)
	if n := f.svc.sweepTerminal(); n != 1 {
		t.Fatalf("swept %d markers, want 1", n)
	}
	alice.Reset()
	bob.Reset()

	if err := f.invite(alice, "ch", "bob"); !errors.Is(err, domain.ErrTerminalChannel) {
		t.Fatalf("invite after sweep: err = %v, want terminal channel", err)
	}
	if alice.Count(domain.MsgTypeCallEnded) != 1 {
		t.Errorf("alice frames = %v, want call-ended", alice.Types())
	}
	if err := f.accept(bob, "ch"); !errors.Is(err, domain.ErrTerminalChannel) {
		t.Errorf("accept after sweep: err = %v, want terminal channel", err)
	}
	if bob.Count(domain.MsgTypeCallInvite) != 0 {
		t.Error("swept channel rang again")
	}
	f.tasks.Wait()
	if incoming, _ := f.notifier.counts(); incoming != 1 {
		t.Errorf("incoming pushes = %d, want 1", incoming)
	}
	if f.svc.ActiveCalls() != 0 || len(f.sink.all()) != 1 {
		t.Errorf("active = %d, records = %d", f.svc.ActiveCalls(), len(f.sink.all()))
	}

	// The ledger hit restores the marker, so later frames skip the lookup.
	lookups := f.sink.lookupCount()
	f.invite(alice, "ch", "bob")
	if f.sink.lookupCount() != lookups {
		t.Error("restored marker not used")
	}
}

func TestLedgerFailureRefusesInvite(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("alice")
	bob := f.connect("bob")
	f.sink.failLookups(errors.New("db down"))

	if err := f.invite(alice, "ch", "bob"); err == nil {
		t.Fatal("invite admitted without a ledger answer")
	}
	if code := errorCode(t, alice); code != domain.CodeInternal {
		t.Errorf("code = %s, want %s", code, domain.CodeInternal)
	}
	if bob.Count(domain.MsgTypeCallInvite) != 0 || f.svc.ActiveCalls() != 0 {
		t.Error("call started without a ledger answer")
	}
}

func TestStopCancelsRingTimers(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	alice := f.connect("alice")
	if err := f.invite(alice, "ch", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	f.svc.Stop()
	time.Sleep(80 * time.Millisecond)

	if f.svc.ActiveCalls() != 1 {
		t.Error("ring timer fired after Stop")
	}
	if err := f.invite(alice, "ch2", "carol"); err == nil {
		t.Error("invite accepted after Stop")
	}
}
