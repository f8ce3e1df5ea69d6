// Package group extends one-to-one calls to rooms. Each participant keeps a
// pairwise session with every other member (a full mesh); the coordinator
// only orchestrates which legs exist, the call engine owns each leg.
package group

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"mentorcall/internal/call"
	"mentorcall/internal/metrics"
	"mentorcall/internal/signal"
)

var (
	ErrAlreadyInRoom = errors.New("already joined group room")
	ErrNotInRoom     = errors.New("not joined to group room")
)

// Announcement surfaces a group-call-started event to the UI.
type Announcement struct {
	RoomID      string
	StarterID   string
	StarterName string
	CallType    signal.CallType
}

// RoomInfo is a point-in-time view of one joined room.
type RoomInfo struct {
	RoomID   string          `json:"roomId"`
	CallType signal.CallType `json:"callType"`
	Members  []string        `json:"members"`
}

type room struct {
	callType signal.CallType
	members  map[string]struct{}
}

// Coordinator tracks which rooms this node has joined, announces joins and
// leaves, dials a leg to every member who joins, and auto-accepts legs
// offered to us for rooms we are in.
type Coordinator struct {
	selfID    string
	selfName  string
	engine    *call.Engine
	transport signal.Transport
	logger    *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room

	cbMu      sync.RWMutex
	onStarted []func(Announcement)

	unsubscribe func()
	loopDone    chan struct{}
}

type Options struct {
	SelfID    string
	SelfName  string
	Engine    *call.Engine
	Transport signal.Transport
	Logger    *slog.Logger
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.SelfID == "" {
		return nil, errors.New("self id must not be empty")
	}
	if opts.Engine == nil {
		return nil, errors.New("engine must not be nil")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		selfID:    opts.SelfID,
		selfName:  opts.SelfName,
		engine:    opts.Engine,
		transport: opts.Transport,
		logger:    logger.With(slog.String("component", "group")),
		rooms:     make(map[string]*room),
		loopDone:  make(chan struct{}),
	}
	// Legs offered to us for a room we are in ring and connect without any
	// user interaction. Accept runs in its own goroutine: it captures media,
	// and the engine's dispatch loop must not stall behind the hardware.
	c.engine.OnIncoming(func(req call.IncomingCall) {
		roomID, ok := req.Key.RoomID()
		if !ok || !c.inRoom(roomID) {
			return
		}
		go func() {
			if err := c.engine.Accept(req.Key); err != nil {
				c.logger.Warn("failed to accept group leg",
					slog.String("call_key", string(req.Key)),
					slog.String("error", err.Error()))
			}
		}()
	})
	return c, nil
}

// Start subscribes to room announcements on the transport.
func (c *Coordinator) Start() {
	events, cancel := c.transport.Subscribe()
	c.unsubscribe = cancel
	go c.loop(events)
}

func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		<-c.loopDone
	}
}

// OnStarted registers a listener for group calls announced by other peers.
func (c *Coordinator) OnStarted(fn func(Announcement)) {
	c.cbMu.Lock()
	c.onStarted = append(c.onStarted, fn)
	c.cbMu.Unlock()
}

// StartGroupCall opens a room and announces it to every reachable peer.
// Members dial us as they join.
func (c *Coordinator) StartGroupCall(roomID string, callType signal.CallType) error {
	if _, err := signal.ParseCallType(string(callType)); err != nil {
		return err
	}
	if err := c.enterRoom(roomID, callType); err != nil {
		return err
	}
	err := c.transport.Send("", signal.Message{
		Type:        signal.MessageTypeGroupCallStarted,
		RoomID:      roomID,
		StarterID:   c.selfID,
		StarterName: c.selfName,
		CallType:    callType,
	})
	if err != nil {
		c.leaveRoom(roomID)
		return fmt.Errorf("announce group call: %w", err)
	}
	metrics.GroupRoomsJoined.Inc()
	return nil
}

// JoinGroupCall enters an announced room. Existing members dial a leg to us
// on hearing the join; those offers are auto-accepted.
func (c *Coordinator) JoinGroupCall(roomID string, callType signal.CallType) error {
	if _, err := signal.ParseCallType(string(callType)); err != nil {
		return err
	}
	if err := c.enterRoom(roomID, callType); err != nil {
		return err
	}
	err := c.transport.Send("", signal.Message{
		Type:   signal.MessageTypeGroupCallJoined,
		RoomID: roomID,
		UserID: c.selfID,
	})
	if err != nil {
		c.leaveRoom(roomID)
		return fmt.Errorf("announce join: %w", err)
	}
	metrics.GroupRoomsJoined.Inc()
	return nil
}

// EndGroupCall leaves the room: announces the leave, then tears down every
// pairwise leg. Remote members drop their leg to us on the announcement, so
// neither side is left holding a dangling media stream.
func (c *Coordinator) EndGroupCall(roomID string) error {
	if !c.inRoom(roomID) {
		return ErrNotInRoom
	}
	err := c.transport.Send("", signal.Message{
		Type:   signal.MessageTypeGroupCallEnded,
		RoomID: roomID,
		UserID: c.selfID,
	})
	if err != nil {
		c.logger.Warn("failed to announce group leave", slog.String("error", err.Error()))
	}
	c.leaveRoom(roomID)
	c.endRoomLegs(roomID)
	return nil
}

// Rooms lists the joined rooms.
func (c *Coordinator) Rooms() []RoomInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RoomInfo, 0, len(c.rooms))
	for id, r := range c.rooms {
		members := make([]string, 0, len(r.members))
		for m := range r.members {
			members = append(members, m)
		}
		sort.Strings(members)
		out = append(out, RoomInfo{RoomID: id, CallType: r.callType, Members: members})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (c *Coordinator) enterRoom(roomID string, callType signal.CallType) error {
	if roomID == "" {
		return errors.New("room id must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; ok {
		return ErrAlreadyInRoom
	}
	c.rooms[roomID] = &room{callType: callType, members: make(map[string]struct{})}
	return nil
}

func (c *Coordinator) leaveRoom(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

func (c *Coordinator) inRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *Coordinator) loop(events <-chan signal.Event) {
	defer close(c.loopDone)
	for ev := range events {
		if ev.Type != signal.EventMessage {
			continue
		}
		switch ev.Msg.Type {
		case signal.MessageTypeGroupCallStarted:
			c.handleStarted(ev.Msg)
		case signal.MessageTypeGroupCallJoined:
			c.handleJoined(ev.Msg)
		case signal.MessageTypeGroupCallEnded:
			c.handleEnded(ev.Msg)
		}
	}
}

func (c *Coordinator) handleStarted(msg signal.Message) {
	if msg.StarterID == c.selfID {
		return
	}
	ann := Announcement{
		RoomID:      msg.RoomID,
		StarterID:   msg.StarterID,
		StarterName: msg.StarterName,
		CallType:    msg.CallType,
	}
	c.cbMu.RLock()
	handlers := append([]func(Announcement){}, c.onStarted...)
	c.cbMu.RUnlock()
	for _, fn := range handlers {
		fn(ann)
	}
}

// handleJoined dials a leg to the new member. The leg's local key names the
// remote peer, so every member of the mesh holds distinct keys.
func (c *Coordinator) handleJoined(msg signal.Message) {
	if msg.UserID == c.selfID {
		return
	}
	c.mu.Lock()
	r, ok := c.rooms[msg.RoomID]
	var callType signal.CallType
	if ok {
		r.members[msg.UserID] = struct{}{}
		callType = r.callType
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	key := signal.RoomPairKey(msg.RoomID, msg.UserID)
	if _, err := c.engine.StartCall(msg.UserID, key, callType); err != nil {
		c.logger.Warn("failed to dial group leg",
			slog.String("call_key", string(key)),
			slog.String("error", err.Error()))
	}
}

func (c *Coordinator) handleEnded(msg signal.Message) {
	if msg.UserID == c.selfID {
		return
	}
	c.mu.Lock()
	r, ok := c.rooms[msg.RoomID]
	if ok {
		delete(r.members, msg.UserID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	// The leaving member also tears its legs down; ending here as well keeps
	// teardown prompt when their call-ended is lost. End is idempotent.
	c.engine.End(signal.RoomPairKey(msg.RoomID, msg.UserID))
}

func (c *Coordinator) endRoomLegs(roomID string) {
	for _, info := range c.engine.Snapshot() {
		if id, ok := info.Key.RoomID(); ok && id == roomID {
			c.engine.End(info.Key)
		}
	}
}
