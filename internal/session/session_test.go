package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/webhangin/backend/internal/protocol"
	"github.com/webhangin/backend/internal/room"
	"github.com/webhangin/backend/internal/sfu"
)

// ---- fake websocket ----

type fakeMsg struct {
	kind int
	data []byte
}

var errConnClosed = errors.New("fake conn closed")

type fakeConn struct {
	in     chan fakeMsg
	out    chan fakeMsg
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan fakeMsg, 16),
		out:    make(chan fakeMsg, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m, ok := <-c.in:
		if !ok {
			return 0, nil, errConnClosed
		}
		return m.kind, m.data, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
		c.out <- fakeMsg{kind: kind, data: data}
	}
	return nil
}

func (c *fakeConn) SetReadLimit(int64)                 {}
func (c *fakeConn) SetReadDeadline(time.Time) error    { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)  {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// disconnect simulates the client hanging up.
func (c *fakeConn) disconnect() { c.Close() }

func (c *fakeConn) sendText(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	c.in <- fakeMsg{kind: websocket.TextMessage, data: data}
}

func (c *fakeConn) nextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-c.out:
		var frame map[string]any
		if err := json.Unmarshal(m.data, &frame); err != nil {
			t.Fatalf("unmarshal %s: %v", m.data, err)
		}
		return frame
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

// nextAction skips frames until one with the wanted action arrives.
func (c *fakeConn) nextAction(t *testing.T, action string) map[string]any {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m := <-c.out:
			var frame map[string]any
			if err := json.Unmarshal(m.data, &frame); err != nil {
				t.Fatalf("unmarshal %s: %v", m.data, err)
			}
			if frame["action"] == action {
				return frame
			}
		case <-deadline:
			t.Fatalf("timed out waiting for action %q", action)
		}
	}
}

// ---- stub SFU ----

type stubWorker struct {
	subscribeErr error
}

func (w *stubWorker) NewRouter(sfu.MediaConfig) (sfu.Router, error) {
	return &stubTestRouter{worker: w}, nil
}

type stubTestRouter struct{ worker *stubWorker }

func (r *stubTestRouter) CreatePublishTransport(sfu.TransportConfig) (sfu.PublishTransport, error) {
	return &stubPublishTransport{}, nil
}

func (r *stubTestRouter) CreateSubscribeTransport(sfu.TransportConfig) (sfu.SubscribeTransport, error) {
	return &stubSubscribeTransport{err: r.worker.subscribeErr}, nil
}

func (r *stubTestRouter) Close() {}

type stubPublishTransport struct{}

func (t *stubPublishTransport) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (t *stubPublishTransport) AddICECandidate(webrtc.ICECandidateInit) error {
	return nil
}

func (t *stubPublishTransport) GetAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (t *stubPublishTransport) Publish(_ context.Context, publisherID string) (sfu.Publisher, error) {
	return &stubPublisher{trackID: "trk-" + publisherID}, nil
}

func (t *stubPublishTransport) Close() error { return nil }

type stubPublisher struct{ trackID string }

func (p *stubPublisher) TrackID() string { return p.trackID }
func (p *stubPublisher) Close()          {}

type stubSubscribeTransport struct {
	err      error
	attempts int
}

func (t *stubSubscribeTransport) OnICECandidate(func(webrtc.ICECandidateInit))           {}
func (t *stubSubscribeTransport) OnNegotiationNeeded(func(webrtc.SessionDescription))    {}
func (t *stubSubscribeTransport) AddICECandidate(webrtc.ICECandidateInit) error          { return nil }

func (t *stubSubscribeTransport) Subscribe(publisherID string) (sfu.Subscriber, *webrtc.SessionDescription, error) {
	t.attempts++
	if t.err != nil {
		return nil, nil, t.err
	}
	return &stubSubscriber{id: "sub-" + publisherID},
		&webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (t *stubSubscribeTransport) SetAnswer(webrtc.SessionDescription) error { return nil }
func (t *stubSubscribeTransport) Close() error                              { return nil }

type stubSubscriber struct{ id string }

func (s *stubSubscriber) ID() string { return s.id }
func (s *stubSubscriber) Close()     {}

// ---- helpers ----

func newTestRegistry(w sfu.Worker) *room.Registry {
	return room.NewRegistry(w)
}

func joinPlayer(t *testing.T, reg *room.Registry, rm *room.Room, name string) (*fakeConn, string) {
	t.Helper()
	conn := newFakeConn()
	proto := protocol.PlayerData{
		Name:     name,
		Color:    "#aabbcc",
		Activity: "gaming",
		FacialFeatures: protocol.FacialFeatures{
			EyeStyle: "round", NoseStyle: "small", MouthStyle: "smile", CharacterType: "cat",
		},
	}
	sess, err := New(conn, reg, rm, proto, []protocol.IceServer{{URLs: []string{"stun:test:3478"}}}, Options{})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	go sess.Run()

	state := conn.nextFrame(t)
	if state["action"] != protocol.ActionRoomState {
		t.Fatalf("first frame = %v, want roomState", state["action"])
	}
	playerID, _ := state["yourPlayerId"].(string)
	if playerID == "" {
		t.Fatal("roomState missing yourPlayerId")
	}
	return conn, playerID
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---- scenarios ----

func TestJoinSendsRoomStateFirst(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	roomID, theme := room.RouteActivity("coding")
	if roomID != "focus-den" {
		t.Fatalf("RouteActivity(coding) = %q, want focus-den", roomID)
	}
	rm, _ := reg.CreateOrGet(roomID, theme, sfu.MediaConfig{})

	conn := newFakeConn()
	proto := protocol.PlayerData{Name: "c1", Activity: "coding"}
	sess, err := New(conn, reg, rm, proto, nil, Options{})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	go sess.Run()

	state := conn.nextFrame(t)
	if state["action"] != protocol.ActionRoomState {
		t.Fatalf("first frame = %v, want roomState", state["action"])
	}
	if state["roomTheme"] != "Focus Den" {
		t.Errorf("roomTheme = %v", state["roomTheme"])
	}
	players, _ := state["players"].([]any)
	if len(players) != 1 {
		t.Errorf("players = %d, want 1 (self)", len(players))
	}
}

func TestLeaveAloneRemovesRoom(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	roomID, theme := room.RouteActivity("coding")
	rm, _ := reg.CreateOrGet(roomID, theme, sfu.MediaConfig{})

	conn, _ := joinPlayer(t, reg, rm, "c1")
	conn.disconnect()

	waitFor(t, func() bool {
		_, ok := reg.Find(roomID)
		return !ok
	}, "room removal")
}

func TestTwoClientsChatAndLeave(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("gaming-corner", "Gaming Corner", sfu.MediaConfig{})

	c1, _ := joinPlayer(t, reg, rm, "c1")
	c2, p2 := joinPlayer(t, reg, rm, "c2")

	joined := c1.nextAction(t, protocol.ActionPlayerJoined)
	player, _ := joined["player"].(map[string]any)
	if player["id"] != p2 {
		t.Errorf("playerJoined.player.id = %v, want %v", player["id"], p2)
	}
	// C2 must not see a playerJoined for itself; its roomState listed both.

	c1.sendText(t, map[string]any{"action": "chatMessage", "message": "hi"})
	for _, c := range []*fakeConn{c1, c2} {
		chat := c.nextAction(t, protocol.ActionChatMessage)
		if chat["sender"] != "c1" || chat["message"] != "hi" {
			t.Errorf("chat = %v", chat)
		}
	}

	c2.disconnect()
	left := c1.nextAction(t, protocol.ActionPlayerLeft)
	if left["playerId"] != p2 {
		t.Errorf("playerLeft.playerId = %v, want %v", left["playerId"], p2)
	}
}

func TestRoomStateListsEarlierPlayers(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("gaming-corner", "Gaming Corner", sfu.MediaConfig{})

	joinPlayer(t, reg, rm, "c1")

	conn := newFakeConn()
	sess, err := New(conn, reg, rm, protocol.PlayerData{Name: "c2", Activity: "gaming"}, nil, Options{})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	go sess.Run()

	state := conn.nextFrame(t)
	players, _ := state["players"].([]any)
	if len(players) != 2 {
		t.Errorf("players = %d, want 2", len(players))
	}
}

func TestPublishThenLeave(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("cinema", "Cinema", sfu.MediaConfig{})

	c1, p1 := joinPlayer(t, reg, rm, "c1")
	c1.sendText(t, map[string]any{"action": "publish", "publisherId": "camX"})

	waitFor(t, func() bool { return len(rm.GetAllPublishers()) == 1 }, "publisher registration")

	c2, _ := joinPlayer(t, reg, rm, "c2")
	c2.sendText(t, map[string]any{"action": "subscriberInit"})

	published := c2.nextAction(t, protocol.ActionPublished)
	if published["playerId"] != p1 {
		t.Errorf("published.playerId = %v, want %v", published["playerId"], p1)
	}
	ids, _ := published["publisherIds"].([]any)
	if len(ids) != 1 || ids[0] != "trk-camX" {
		t.Errorf("publisherIds = %v", ids)
	}

	c1.disconnect()
	// Order between unpublished and playerLeft is unspecified.
	var sawUnpublished, sawLeft bool
	for i := 0; i < 2; i++ {
		frame := c2.nextFrame(t)
		switch frame["action"] {
		case protocol.ActionUnpublished:
			sawUnpublished = true
			if frame["publisherId"] != "trk-camX" {
				t.Errorf("unpublished.publisherId = %v", frame["publisherId"])
			}
		case protocol.ActionPlayerLeft:
			sawLeft = true
			if frame["playerId"] != p1 {
				t.Errorf("playerLeft.playerId = %v", frame["playerId"])
			}
		default:
			t.Errorf("unexpected frame %v", frame)
		}
	}
	if !sawUnpublished || !sawLeft {
		t.Errorf("unpublished=%v playerLeft=%v", sawUnpublished, sawLeft)
	}
}

func TestStopPublishBroadcastsUnpublished(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("cinema", "Cinema", sfu.MediaConfig{})

	c1, _ := joinPlayer(t, reg, rm, "c1")
	c2, _ := joinPlayer(t, reg, rm, "c2")
	c1.nextAction(t, protocol.ActionPlayerJoined)

	c1.sendText(t, map[string]any{"action": "publish", "publisherId": "camX"})
	c2.nextAction(t, protocol.ActionPublished)

	c1.sendText(t, map[string]any{"action": "stopPublish", "publisherId": "trk-camX"})
	unpub := c2.nextAction(t, protocol.ActionUnpublished)
	if unpub["publisherId"] != "trk-camX" {
		t.Errorf("unpublished = %v", unpub)
	}
	waitFor(t, func() bool { return len(rm.GetAllPublishers()) == 0 }, "binding removal")
}

func TestSubscribeRetryExhaustion(t *testing.T) {
	reg := newTestRegistry(&stubWorker{subscribeErr: errors.New("no such publisher")})
	rm, _ := reg.CreateOrGet("cinema", "Cinema", sfu.MediaConfig{})

	c1, _ := joinPlayer(t, reg, rm, "c1")
	c1.sendText(t, map[string]any{"action": "subscribe", "publisherId": "ghost"})

	failed := c1.nextAction(t, protocol.ActionSubscribeFailed)
	if failed["publisherId"] != "ghost" {
		t.Errorf("subscribeFailed.publisherId = %v", failed["publisherId"])
	}
	if msg, _ := failed["error"].(string); msg == "" {
		t.Error("subscribeFailed.error is empty")
	}

	// No subscribed frame may follow.
	select {
	case m := <-c1.out:
		var frame map[string]any
		_ = json.Unmarshal(m.data, &frame)
		if frame["action"] == protocol.ActionSubscribed {
			t.Error("received subscribed after exhaustion")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeSuccess(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("cinema", "Cinema", sfu.MediaConfig{})

	c1, _ := joinPlayer(t, reg, rm, "c1")
	c1.sendText(t, map[string]any{"action": "subscribe", "publisherId": "trk-a"})

	offer := c1.nextAction(t, protocol.ActionOffer)
	if sdp, _ := offer["sdp"].(map[string]any); sdp["sdp"] != "v=0 offer" {
		t.Errorf("offer = %v", offer)
	}
	subbed := c1.nextAction(t, protocol.ActionSubscribed)
	if subbed["subscriberId"] != "sub-trk-a" {
		t.Errorf("subscribed = %v", subbed)
	}
}

func TestMovementBroadcastSkipsSender(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("city", "City", sfu.MediaConfig{})

	c1, p1 := joinPlayer(t, reg, rm, "c1")
	c2, _ := joinPlayer(t, reg, rm, "c2")
	c1.nextAction(t, protocol.ActionPlayerJoined)

	c1.sendText(t, map[string]any{
		"action":   "playerMove",
		"position": map[string]any{"x": 1, "y": 2, "z": 3},
		"rotation": 0.5,
		"isMoving": true,
	})

	moved := c2.nextAction(t, protocol.ActionPlayerMoved)
	if moved["playerId"] != p1 || moved["rotation"] != 0.5 || moved["isMoving"] != true {
		t.Errorf("playerMoved = %v", moved)
	}
	pos, _ := moved["position"].(map[string]any)
	if pos["x"] != 1.0 || pos["y"] != 2.0 || pos["z"] != 3.0 {
		t.Errorf("position = %v", pos)
	}

	// The sender gets no echo: the next frame on c1 must answer the ping.
	c1.sendText(t, map[string]any{"action": "ping"})
	if frame := c1.nextFrame(t); frame["action"] != protocol.ActionPong {
		t.Errorf("sender received %v, want pong", frame["action"])
	}

	// Room state reflects the move.
	state, _ := rm.GetPlayer(p1)
	if state.Position.X != 1 || !state.IsMoving {
		t.Errorf("room state = %+v", state)
	}
}

func TestAnimationBroadcastSkipsSender(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("city", "City", sfu.MediaConfig{})

	c1, p1 := joinPlayer(t, reg, rm, "c1")
	c2, _ := joinPlayer(t, reg, rm, "c2")
	c1.nextAction(t, protocol.ActionPlayerJoined)

	c1.sendText(t, map[string]any{"action": "playAnimation", "animation": "wave"})
	anim := c2.nextAction(t, protocol.ActionPlayerAnimation)
	if anim["playerId"] != p1 || anim["animation"] != "wave" {
		t.Errorf("playerAnimation = %v", anim)
	}
}

func TestPingPong(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("city", "City", sfu.MediaConfig{})

	c1, _ := joinPlayer(t, reg, rm, "c1")
	c1.sendText(t, map[string]any{"action": "ping"})
	if frame := c1.nextFrame(t); frame["action"] != protocol.ActionPong {
		t.Errorf("frame = %v, want pong", frame)
	}
}

func TestOfferGetsAnswer(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("city", "City", sfu.MediaConfig{})

	c1, _ := joinPlayer(t, reg, rm, "c1")
	c1.sendText(t, map[string]any{
		"action": "offer",
		"sdp":    map[string]any{"type": "offer", "sdp": "v=0 client"},
	})
	answer := c1.nextAction(t, protocol.ActionAnswer)
	if sdp, _ := answer["sdp"].(map[string]any); sdp["sdp"] != "v=0 answer" {
		t.Errorf("answer = %v", answer)
	}
}

func TestMalformedAndUnknownFramesDropped(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("city", "City", sfu.MediaConfig{})

	c1, _ := joinPlayer(t, reg, rm, "c1")
	c1.in <- fakeMsg{kind: websocket.TextMessage, data: []byte(`{"action":`)}
	c1.in <- fakeMsg{kind: websocket.TextMessage, data: []byte(`{"no":"action"}`)}
	c1.sendText(t, map[string]any{"action": "teleport"})

	// The session survives and still answers pings.
	c1.sendText(t, map[string]any{"action": "ping"})
	if frame := c1.nextFrame(t); frame["action"] != protocol.ActionPong {
		t.Errorf("frame = %v, want pong", frame)
	}
}

func TestBinaryFramesEchoed(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("city", "City", sfu.MediaConfig{})

	c1, _ := joinPlayer(t, reg, rm, "c1")
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	c1.in <- fakeMsg{kind: websocket.BinaryMessage, data: payload}

	select {
	case m := <-c1.out:
		if m.kind != websocket.BinaryMessage || fmt.Sprintf("%x", m.data) != "deadbeef" {
			t.Errorf("echo = kind %d data %x", m.kind, m.data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no binary echo")
	}
}

func TestMembershipMatchesLiveSessions(t *testing.T) {
	reg := newTestRegistry(&stubWorker{})
	rm, _ := reg.CreateOrGet("hangout-hub", "Hangout Hub", sfu.MediaConfig{})

	conns := make([]*fakeConn, 0, 4)
	for i := 0; i < 4; i++ {
		c, _ := joinPlayer(t, reg, rm, fmt.Sprintf("p%d", i))
		conns = append(conns, c)
		if rm.PlayerCount() != i+1 {
			t.Errorf("count after join %d = %d", i, rm.PlayerCount())
		}
	}
	for i, c := range conns {
		c.disconnect()
		want := len(conns) - i - 1
		waitFor(t, func() bool {
			if want == 0 {
				_, ok := reg.Find("hangout-hub")
				return !ok
			}
			return rm.PlayerCount() == want
		}, "leave processed")
	}
}
