// Package live implements the live-classroom interaction state machine:
// session discovery, the join/approval workflow, in-session chat, and local
// media track ownership.
package live

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/honeyecosystem/sync/internal/cache"
	"github.com/honeyecosystem/sync/internal/logging"
	"github.com/honeyecosystem/sync/internal/models"
	"github.com/honeyecosystem/sync/internal/restclient"
	"github.com/honeyecosystem/sync/internal/store"
	"github.com/honeyecosystem/sync/internal/tokenstore"
)

const sessionsPath = "/api/v1/live/sessions/"

func detailPath(id string) string       { return fmt.Sprintf("%s%s/", sessionsPath, id) }
func joinPath(id string) string         { return fmt.Sprintf("%s%s/join_request/", sessionsPath, id) }
func participantsPath(id string) string { return fmt.Sprintf("%s%s/participants/", sessionsPath, id) }
func messagesPath(id string) string     { return fmt.Sprintf("%s%s/messages/", sessionsPath, id) }
func sendMessagePath(id string) string  { return fmt.Sprintf("%s%s/send_message/", sessionsPath, id) }
func startPath(id string) string        { return fmt.Sprintf("%s%s/start_stream/", sessionsPath, id) }
func endPath(id string) string          { return fmt.Sprintf("%s%s/end_stream/", sessionsPath, id) }

func approvePath(sessionID, participantID string) string {
	return fmt.Sprintf("%s%s/approve-participant/%s/", sessionsPath, sessionID, participantID)
}

// State is a read-only snapshot of the active session for rendering.
type State struct {
	Session      models.LiveSession
	MyStatus     string
	IsStreamer   bool
	Participants []models.Participant
	Messages     []models.LiveMessage
	Muted        bool
	CameraOff    bool
	HasPreview   bool
	DeviceError  string
}

type activeState struct {
	session      models.LiveSession
	isStreamer   bool
	myStatus     string
	participants []models.Participant
	messages     []models.LiveMessage
	stream       MediaStream
	muted        bool
	cameraOff    bool
	deviceErr    string
	cancel       context.CancelFunc
}

// Controller owns the session list cache and the single active session.
// Session status is server-authoritative: the controller requests
// transitions and observes the outcome on a later poll tick. The server
// stops listing finished sessions, so the list needs no client-side filter.
type Controller struct {
	client  *restclient.Client
	tokens  *tokenstore.Store
	devices DeviceOpener

	sessions       *cache.Collection[models.LiveSession]
	detailInterval time.Duration
	seq            atomic.Uint64

	mu     sync.Mutex
	active *activeState
}

// NewController constructs the live controller. devices may be nil, in which
// case every join runs degraded without a local preview.
func NewController(client *restclient.Client, tokens *tokenstore.Store, backend store.Store, devices DeviceOpener, detailInterval time.Duration) *Controller {
	if devices == nil {
		devices = NoDeviceOpener{}
	}
	if detailInterval <= 0 {
		detailInterval = 5 * time.Second
	}
	return &Controller{
		client:         client,
		tokens:         tokens,
		devices:        devices,
		sessions:       cache.NewCollection[models.LiveSession]("live_sessions", backend),
		detailInterval: detailInterval,
	}
}

// RefreshSessions re-fetches the session list, replacing the cache.
func (c *Controller) RefreshSessions(ctx context.Context) error {
	seq := c.seq.Add(1)

	var list restclient.List[models.LiveSession]
	if err := c.client.Get(ctx, sessionsPath, nil, &list); err != nil {
		return err
	}
	c.sessions.Replace(list.Items, seq)
	return nil
}

// Sessions returns the current session list.
func (c *Controller) Sessions() []models.LiveSession {
	return c.sessions.Snapshot()
}

// Create starts a new session with the caller as streamer. The creator is
// implicitly approved and immediately active.
func (c *Controller) Create(ctx context.Context, title string) (models.LiveSession, error) {
	var created models.LiveSession
	err := c.client.Post(ctx, sessionsPath, map[string]string{
		"title":  title,
		"status": models.SessionLive,
	}, &created)
	if err != nil {
		return models.LiveSession{}, err
	}

	c.activate(ctx, created, true, models.ParticipantApproved)
	return created, nil
}

// Join requests participation in a session. The local status becomes pending;
// only the streamer's approval, observed on a later poll, advances it. Local
// media is acquired once per join; acquisition failure is recorded as a
// dismissible error and the join proceeds without a preview.
func (c *Controller) Join(ctx context.Context, sessionID string) error {
	if err := c.client.Post(ctx, joinPath(sessionID), nil, nil); err != nil {
		// An already-sent request is not a failure for the joiner.
		if !restclient.IsStatus(err, http.StatusBadRequest) {
			return err
		}
	}

	session := models.LiveSession{ID: sessionID}
	for _, s := range c.sessions.Snapshot() {
		if s.ID == sessionID {
			session = s
			break
		}
	}

	c.activate(ctx, session, false, models.ParticipantPending)
	return nil
}

func (c *Controller) activate(ctx context.Context, session models.LiveSession, isStreamer bool, status string) {
	c.Leave()

	detailCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state := &activeState{
		session:    session,
		isStreamer: isStreamer,
		myStatus:   status,
		cancel:     cancel,
	}

	stream, err := c.devices.Open(ctx)
	if err != nil {
		state.deviceErr = "camera or microphone unavailable; joined without preview"
		logging.FromContext(ctx).Warn("device acquisition failed", "session", session.ID, "error", err)
	} else {
		state.stream = stream
	}

	c.mu.Lock()
	c.active = state
	c.mu.Unlock()

	go c.detailLoop(detailCtx)
}

func (c *Controller) detailLoop(ctx context.Context) {
	ticker := time.NewTicker(c.detailInterval)
	defer ticker.Stop()

	if err := c.RefreshDetail(ctx); err != nil {
		logging.FromContext(ctx).Warn("session detail refresh failed", "error", err)
	}
	for {
		select {
		case <-ticker.C:
			if err := c.RefreshDetail(ctx); err != nil {
				logging.FromContext(ctx).Warn("session detail refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RefreshDetail fetches the active session's authoritative state. Observing
// an approval advances the local participant status with no other local
// change; observing a finished session forces a local leave.
func (c *Controller) RefreshDetail(ctx context.Context) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return nil
	}
	sessionID := c.active.session.ID
	c.mu.Unlock()

	var session models.LiveSession
	if err := c.client.Get(ctx, detailPath(sessionID), nil, &session); err != nil {
		return err
	}
	if session.Status == models.SessionFinished {
		c.Leave()
		return nil
	}

	var participants restclient.List[models.Participant]
	if err := c.client.Get(ctx, participantsPath(sessionID), nil, &participants); err != nil {
		return err
	}
	var messages restclient.List[models.LiveMessage]
	if err := c.client.Get(ctx, messagesPath(sessionID), nil, &messages); err != nil {
		return err
	}

	var myID string
	if profile, ok := c.tokens.Profile(); ok {
		myID = profile.ID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.session.ID != sessionID {
		return nil
	}
	c.active.session = session
	c.active.participants = participants.Items
	c.active.messages = messages.Items
	if !c.active.isStreamer && myID != "" {
		for _, p := range participants.Items {
			if p.User.ID == myID {
				c.active.myStatus = p.Status
				break
			}
		}
	}
	return nil
}

// Approve grants a pending participant access. Only the streamer may call
// this; the joining client observes the transition on its next poll.
func (c *Controller) Approve(ctx context.Context, participantID string) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return fmt.Errorf("no active session")
	}
	if !c.active.isStreamer {
		c.mu.Unlock()
		return fmt.Errorf("only the streamer can approve participants")
	}
	sessionID := c.active.session.ID
	c.mu.Unlock()

	return c.client.Post(ctx, approvePath(sessionID, participantID), nil, nil)
}

// SendMessage posts to the session chat and folds the created message into
// the local feed.
func (c *Controller) SendMessage(ctx context.Context, text string) (models.LiveMessage, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return models.LiveMessage{}, fmt.Errorf("no active session")
	}
	sessionID := c.active.session.ID
	c.mu.Unlock()

	var created models.LiveMessage
	if err := c.client.Post(ctx, sendMessagePath(sessionID), map[string]string{"text": text}, &created); err != nil {
		return models.LiveMessage{}, err
	}

	c.mu.Lock()
	if c.active != nil && c.active.session.ID == sessionID {
		c.active.messages = append(c.active.messages, created)
	}
	c.mu.Unlock()
	return created, nil
}

// StartStream asks the server to mark the session live (streamer only).
func (c *Controller) StartStream(ctx context.Context) error {
	return c.streamTransition(ctx, startPath)
}

// EndStream asks the server to finish the session (streamer only) and forces
// the local client to leave.
func (c *Controller) EndStream(ctx context.Context) error {
	if err := c.streamTransition(ctx, endPath); err != nil {
		return err
	}
	c.Leave()
	return nil
}

func (c *Controller) streamTransition(ctx context.Context, path func(string) string) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return fmt.Errorf("no active session")
	}
	if !c.active.isStreamer {
		c.mu.Unlock()
		return fmt.Errorf("only the streamer can change the stream state")
	}
	sessionID := c.active.session.ID
	c.mu.Unlock()

	return c.client.Post(ctx, path(sessionID), nil, nil)
}

// Leave stops every local media track, stops the detail poll and clears the
// active-session pointer. The session's server-side status is untouched.
func (c *Controller) Leave() {
	c.mu.Lock()
	state := c.active
	c.active = nil
	c.mu.Unlock()

	if state == nil {
		return
	}
	if state.cancel != nil {
		state.cancel()
	}
	if state.stream != nil {
		for _, track := range state.stream.Tracks() {
			track.Stop()
		}
	}
}

// ToggleMute flips the local mute state and applies it to audio tracks. The
// flag is local-first; no network confirmation is involved.
func (c *Controller) ToggleMute() bool {
	return c.toggleTracks("audio", func(s *activeState) *bool { return &s.muted })
}

// ToggleCamera flips the local camera-off state and applies it to video
// tracks.
func (c *Controller) ToggleCamera() bool {
	return c.toggleTracks("video", func(s *activeState) *bool { return &s.cameraOff })
}

func (c *Controller) toggleTracks(kind string, flag func(*activeState) *bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false
	}

	target := flag(c.active)
	*target = !*target
	if c.active.stream != nil {
		for _, track := range c.active.stream.Tracks() {
			if track.Kind() == kind {
				track.SetEnabled(!*target)
			}
		}
	}
	return *target
}

// DismissDeviceError clears the recorded acquisition failure.
func (c *Controller) DismissDeviceError() {
	c.mu.Lock()
	if c.active != nil {
		c.active.deviceErr = ""
	}
	c.mu.Unlock()
}

// Active returns a snapshot of the active session, if any.
func (c *Controller) Active() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return State{}, false
	}
	return State{
		Session:      c.active.session,
		MyStatus:     c.active.myStatus,
		IsStreamer:   c.active.isStreamer,
		Participants: append([]models.Participant(nil), c.active.participants...),
		Messages:     append([]models.LiveMessage(nil), c.active.messages...),
		Muted:        c.active.muted,
		CameraOff:    c.active.cameraOff,
		HasPreview:   c.active.stream != nil,
		DeviceError:  c.active.deviceErr,
	}, true
}
