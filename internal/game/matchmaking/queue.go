package matchmaking

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrel-games/arena/internal/config"
	"github.com/kestrel-games/arena/internal/game/room"
	"github.com/kestrel-games/arena/internal/game/session"
)

// Wire event names owned by the queue.
const (
	EventQueued  = "matchmaking_queued"
	EventSuccess = "matchmaking_success"
)

// ErrNoSession is returned when enqueue is called for a connection with no
// session. That is a dispatch-layer bug, not a recoverable condition.
var ErrNoSession = errors.New("no session for connection")

// ErrAlreadyQueued is returned when a connection already has an active
// request.
var ErrAlreadyQueued = errors.New("connection already queued")

// RoomFactory instantiates a room for a matched group. The server's
// implementation also seeds the simulation state.
type RoomFactory interface {
	CreateRoom(roomID, gameMode string, maxPlayers int, members []room.Member) *room.Room
}

// Notifier delivers matchmaking events to individual connections.
type Notifier interface {
	Send(connID, event string, payload any)
}

// QueuedPayload acknowledges an accepted request.
type QueuedPayload struct {
	RequestID string `json:"requestId"`
	// EstimatedWait is advisory, in seconds.
	EstimatedWait float64 `json:"estimatedWait"`
}

// SuccessPayload announces a found match.
type SuccessPayload struct {
	RoomID  string   `json:"roomId"`
	Players []string `json:"players"`
}

// Queue drains pending match requests through the matcher on a fixed
// period, creating a room per matched group.
// All methods are safe for concurrent use.
type Queue struct {
	cfg      config.MatchmakingConfig
	sessions *session.Registry
	factory  RoomFactory
	notifier Notifier
	logger   *zap.Logger

	mu       sync.Mutex
	requests []Request
	inFlight bool
	worker   *offloader

	quit     chan struct{}
	stopOnce sync.Once
}

// NewQueue creates a stopped matchmaking queue.
//
// Precondition: sessions, factory, notifier, and logger must be non-nil;
// cfg must be validated.
func NewQueue(cfg config.MatchmakingConfig, sessions *session.Registry, factory RoomFactory, notifier Notifier, logger *zap.Logger) *Queue {
	q := &Queue{
		cfg:      cfg,
		sessions: sessions,
		factory:  factory,
		notifier: notifier,
		logger:   logger,
		quit:     make(chan struct{}),
	}
	if cfg.Offload {
		q.worker = newOffloader()
	}
	return q
}

// Enqueue appends a match request for the given connection and acknowledges
// the requester with an estimated wait.
//
// Precondition: The connection must have a registered session.
// Postcondition: Returns the request id, ErrNoSession when no session
// exists, or ErrAlreadyQueued when the connection already has a request.
func (q *Queue) Enqueue(connID string, prefs Preferences) (string, error) {
	sess, ok := q.sessions.Get(connID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSession, connID)
	}

	if prefs.MaxPlayers <= 0 {
		prefs.MaxPlayers = q.cfg.DefaultMaxPlayers
	}

	req := Request{
		ID:         uuid.NewString(),
		PlayerID:   sess.PlayerID,
		ConnID:     connID,
		Prefs:      prefs,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	for _, existing := range q.requests {
		if existing.ConnID == connID {
			q.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrAlreadyQueued, connID)
		}
	}
	q.requests = append(q.requests, req)
	groupmates := 0
	key := req.GroupKey()
	for _, r := range q.requests {
		if r.GroupKey() == key {
			groupmates++
		}
	}
	q.mu.Unlock()

	wait := q.estimateWait(prefs, groupmates)
	q.logger.Info("matchmaking request queued",
		zap.String("request_id", req.ID),
		zap.String("player_id", req.PlayerID),
		zap.String("game_mode", prefs.GameMode),
		zap.Duration("estimated_wait", wait),
	)
	q.notifier.Send(connID, EventQueued, QueuedPayload{
		RequestID:     req.ID,
		EstimatedWait: wait.Seconds(),
	})
	return req.ID, nil
}

// Dequeue removes the pending request for a connection.
//
// Postcondition: Returns false if the connection had no request.
func (q *Queue) Dequeue(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, req := range q.requests {
		if req.ConnID == connID {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

// estimateWait is a coarse advisory heuristic: one period as a floor plus
// one period per player still missing from the requester's group.
func (q *Queue) estimateWait(prefs Preferences, groupmates int) time.Duration {
	needed := prefs.MinPlayers
	if needed < 2 {
		needed = q.cfg.MinPlayers
	}
	missing := needed - groupmates
	if missing < 0 {
		missing = 0
	}
	return q.cfg.Period + time.Duration(missing)*q.cfg.Period
}

// Start runs the periodic processing loop. It blocks until Stop is called.
func (q *Queue) Start() error {
	ticker := time.NewTicker(q.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-q.quit:
			return nil
		case <-ticker.C:
			q.ProcessOnce()
		}
	}
}

// Stop halts the processing loop. Safe to call multiple times.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.quit)
		if q.worker != nil {
			q.worker.close()
		}
	})
}

// ProcessOnce runs a single queue-draining pass. The offload path is used
// when the worker is alive and no call is outstanding; any offload failure
// degrades to the synchronous matcher instead of halting matchmaking.
func (q *Queue) ProcessOnce() {
	q.mu.Lock()
	if len(q.requests) == 0 || q.inFlight {
		q.mu.Unlock()
		return
	}
	pending := append([]Request(nil), q.requests...)
	offload := q.worker != nil && q.worker.alive()
	if offload {
		q.inFlight = true
	}
	q.mu.Unlock()

	if !offload {
		q.handleGroups(Partition(pending, q.cfg.MinPlayers))
		return
	}

	resultCh, err := q.worker.submit(pending, q.cfg.MinPlayers)
	if err != nil {
		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()
		q.logger.Warn("matcher offload unavailable, using synchronous matcher",
			zap.Error(err),
		)
		q.handleGroups(Partition(pending, q.cfg.MinPlayers))
		return
	}

	go func() {
		res := <-resultCh
		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()

		if res.err != nil {
			q.logger.Error("matcher worker crashed, falling back to synchronous matcher",
				zap.Error(res.err),
			)
			q.handleGroups(Partition(pending, q.cfg.MinPlayers))
			return
		}
		q.handleGroups(res.groups)
	}()
}

// handleGroups creates a room per matched group, notifies every member, and
// removes the matched requests from the queue.
func (q *Queue) handleGroups(groups []Group) {
	for _, g := range groups {
		roomID := uuid.NewString()
		members := make([]room.Member, len(g.Requests))
		players := make([]string, len(g.Requests))
		for i, req := range g.Requests {
			members[i] = room.Member{PlayerID: req.PlayerID, ConnID: req.ConnID}
			players[i] = req.PlayerID
		}

		maxPlayers := g.Requests[0].Prefs.MaxPlayers
		if maxPlayers < len(members) {
			maxPlayers = len(members)
		}
		q.factory.CreateRoom(roomID, g.GameMode, maxPlayers, members)

		q.logger.Info("match found",
			zap.String("room_id", roomID),
			zap.String("game_mode", g.GameMode),
			zap.String("region", g.Region),
			zap.Int("players", len(players)),
		)

		payload := SuccessPayload{RoomID: roomID, Players: players}
		for _, m := range members {
			q.notifier.Send(m.ConnID, EventSuccess, payload)
		}

		q.removeRequests(g.Requests)
	}
}

func (q *Queue) removeRequests(matched []Request) {
	ids := make(map[string]bool, len(matched))
	for _, req := range matched {
		ids[req.ID] = true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.requests[:0]
	for _, req := range q.requests {
		if !ids[req.ID] {
			kept = append(kept, req)
		}
	}
	q.requests = kept
}
