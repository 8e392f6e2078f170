package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/honeyecosystem/sync/internal/models"
	"github.com/honeyecosystem/sync/internal/restclient"
	"github.com/honeyecosystem/sync/internal/store"
	"github.com/honeyecosystem/sync/internal/tokenstore"
)

type stubTrack struct {
	kind string

	mu      sync.Mutex
	stopped bool
	enabled bool
}

func (s *stubTrack) Kind() string { return s.kind }

func (s *stubTrack) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *stubTrack) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *stubTrack) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *stubTrack) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

type stubStream struct {
	tracks []Track
}

func (s *stubStream) Tracks() []Track { return s.tracks }

type stubOpener struct {
	stream *stubStream
	err    error
}

func (s *stubOpener) Open(context.Context) (MediaStream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

// liveServer is a minimal scripted backend for the session endpoints.
type liveServer struct {
	mu           sync.Mutex
	session      models.LiveSession
	participants []models.Participant
	messages     []models.LiveMessage
	joinCalls    int
	approveCalls int
	endCalls     int
}

func (s *liveServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v1/live/sessions/" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]models.LiveSession{s.session})
		case r.URL.Path == "/api/v1/live/sessions/" && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(s.session)
		case r.URL.Path == "/api/v1/live/sessions/s1/":
			json.NewEncoder(w).Encode(s.session)
		case r.URL.Path == "/api/v1/live/sessions/s1/join_request/":
			s.joinCalls++
			if s.joinCalls > 1 {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"detail": "Request already sent"})
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(s.participants[0])
		case r.URL.Path == "/api/v1/live/sessions/s1/participants/":
			json.NewEncoder(w).Encode(s.participants)
		case r.URL.Path == "/api/v1/live/sessions/s1/messages/":
			json.NewEncoder(w).Encode(s.messages)
		case r.URL.Path == "/api/v1/live/sessions/s1/approve-participant/p1/":
			s.approveCalls++
			s.participants[0].Status = models.ParticipantApproved
			json.NewEncoder(w).Encode(s.participants[0])
		case r.URL.Path == "/api/v1/live/sessions/s1/end_stream/":
			s.endCalls++
			s.session.Status = models.SessionFinished
			json.NewEncoder(w).Encode(s.session)
		case r.URL.Path == "/api/v1/live/sessions/s1/send_message/":
			var body struct {
				Text string `json:"text"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			msg := models.LiveMessage{ID: "m1", Text: body.Text}
			s.messages = append(s.messages, msg)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(msg)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newLiveFixture(t *testing.T, srv *liveServer, opener DeviceOpener) *Controller {
	t.Helper()
	server := httptest.NewServer(srv.handler(t))
	t.Cleanup(server.Close)

	tokens, err := tokenstore.New(store.NewMemory(), make([]byte, 32))
	if err != nil {
		t.Fatalf("token store: %v", err)
	}
	if err := tokens.SetTokens("access-1", "refresh-1"); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}
	if err := tokens.SetProfile(models.UserProfile{ID: "me", Username: "ada"}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	client := restclient.New(server.URL, tokens)
	// A huge detail interval keeps the background loop out of the test's way;
	// RefreshDetail is driven directly.
	ctrl := NewController(client, tokens, store.NewMemory(), opener, time.Hour)
	t.Cleanup(ctrl.Leave)
	return ctrl
}

// waitFor retries fn until it reports success, re-polling the session detail
// between attempts. The join spawns an immediate background detail refresh, so
// assertions against post-join server mutations must tolerate one stale write.
func waitFor(t *testing.T, ctrl *Controller, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := ctrl.RefreshDetail(context.Background()); err != nil {
			t.Fatalf("refresh detail: %v", err)
		}
		if fn() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func pendingFixtureServer() *liveServer {
	return &liveServer{
		session: models.LiveSession{ID: "s1", Title: "office hours", Status: models.SessionLive,
			Streamer: models.UserRef{ID: "streamer"}},
		participants: []models.Participant{
			{ID: "p1", User: models.UserRef{ID: "me", Username: "ada"}, Status: models.ParticipantPending},
		},
	}
}

func TestJoinStartsPendingAndApprovalIsObserved(t *testing.T) {
	srv := pendingFixtureServer()
	audio := &stubTrack{kind: "audio", enabled: true}
	video := &stubTrack{kind: "video", enabled: true}
	ctrl := newLiveFixture(t, srv, &stubOpener{stream: &stubStream{tracks: []Track{audio, video}}})

	ctx := context.Background()
	if err := ctrl.Join(ctx, "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	state, ok := ctrl.Active()
	if !ok {
		t.Fatal("expected an active session")
	}
	if state.MyStatus != models.ParticipantPending {
		t.Fatalf("expected pending after join got %q", state.MyStatus)
	}
	if !state.HasPreview || state.DeviceError != "" {
		t.Fatalf("expected local preview, state %+v", state)
	}

	// The streamer approves; the next poll tick observes the transition.
	srv.mu.Lock()
	srv.participants[0].Status = models.ParticipantApproved
	srv.mu.Unlock()

	waitFor(t, ctrl, func() bool {
		state, _ := ctrl.Active()
		return state.MyStatus == models.ParticipantApproved
	})
}

func TestJoinAlreadySentIsNotAnError(t *testing.T) {
	srv := pendingFixtureServer()
	srv.joinCalls = 1 // the next join_request gets the already-sent 400
	ctrl := newLiveFixture(t, srv, &stubOpener{err: ErrNoDevice})

	if err := ctrl.Join(context.Background(), "s1"); err != nil {
		t.Fatalf("join after duplicate request: %v", err)
	}
	state, ok := ctrl.Active()
	if !ok || state.MyStatus != models.ParticipantPending {
		t.Fatalf("expected pending active session, got %+v ok=%v", state, ok)
	}
}

func TestJoinProceedsDegradedWithoutDevices(t *testing.T) {
	ctrl := newLiveFixture(t, pendingFixtureServer(), &stubOpener{err: ErrNoDevice})

	if err := ctrl.Join(context.Background(), "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	state, _ := ctrl.Active()
	if state.HasPreview {
		t.Fatal("expected no preview without devices")
	}
	if state.DeviceError == "" {
		t.Fatal("expected a reported device error")
	}

	ctrl.DismissDeviceError()
	state, _ = ctrl.Active()
	if state.DeviceError != "" {
		t.Fatal("expected device error dismissed")
	}
}

func TestLeaveStopsEveryTrack(t *testing.T) {
	audio := &stubTrack{kind: "audio", enabled: true}
	video := &stubTrack{kind: "video", enabled: true}
	ctrl := newLiveFixture(t, pendingFixtureServer(), &stubOpener{stream: &stubStream{tracks: []Track{audio, video}}})

	if err := ctrl.Join(context.Background(), "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	ctrl.Leave()

	if !audio.isStopped() || !video.isStopped() {
		t.Fatal("expected every track stopped on leave")
	}
	if _, ok := ctrl.Active(); ok {
		t.Fatal("expected active session cleared")
	}
}

func TestFinishedSessionForcesLocalLeave(t *testing.T) {
	srv := pendingFixtureServer()
	audio := &stubTrack{kind: "audio", enabled: true}
	ctrl := newLiveFixture(t, srv, &stubOpener{stream: &stubStream{tracks: []Track{audio}}})

	ctx := context.Background()
	if err := ctrl.Join(ctx, "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	srv.mu.Lock()
	srv.session.Status = models.SessionFinished
	srv.mu.Unlock()

	if err := ctrl.RefreshDetail(ctx); err != nil {
		t.Fatalf("refresh detail: %v", err)
	}
	if _, ok := ctrl.Active(); ok {
		t.Fatal("expected forced leave when the session finishes")
	}
	if !audio.isStopped() {
		t.Fatal("expected tracks stopped on forced leave")
	}
}

func TestCreateActivatesStreamer(t *testing.T) {
	srv := pendingFixtureServer()
	ctrl := newLiveFixture(t, srv, &stubOpener{stream: &stubStream{}})

	ctx := context.Background()
	created, err := ctrl.Create(ctx, "office hours")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "s1" {
		t.Fatalf("unexpected session: %+v", created)
	}

	state, ok := ctrl.Active()
	if !ok || !state.IsStreamer {
		t.Fatalf("expected active streamer session, got %+v ok=%v", state, ok)
	}
	if state.MyStatus != models.ParticipantApproved {
		t.Fatalf("creator must be immediately approved got %q", state.MyStatus)
	}

	if err := ctrl.Approve(ctx, "p1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	srv.mu.Lock()
	approves := srv.approveCalls
	srv.mu.Unlock()
	if approves != 1 {
		t.Fatalf("expected one approve call got %d", approves)
	}
}

func TestApproveRequiresStreamer(t *testing.T) {
	ctrl := newLiveFixture(t, pendingFixtureServer(), &stubOpener{err: ErrNoDevice})
	if err := ctrl.Join(context.Background(), "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := ctrl.Approve(context.Background(), "p1"); err == nil {
		t.Fatal("expected approve rejected for non-streamer")
	}
}

func TestEndStreamForcesLeave(t *testing.T) {
	srv := pendingFixtureServer()
	audio := &stubTrack{kind: "audio", enabled: true}
	ctrl := newLiveFixture(t, srv, &stubOpener{stream: &stubStream{tracks: []Track{audio}}})

	ctx := context.Background()
	if _, err := ctrl.Create(ctx, "office hours"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ctrl.EndStream(ctx); err != nil {
		t.Fatalf("end stream: %v", err)
	}

	if _, ok := ctrl.Active(); ok {
		t.Fatal("expected local leave after ending the stream")
	}
	if !audio.isStopped() {
		t.Fatal("expected tracks stopped after ending the stream")
	}
	srv.mu.Lock()
	ends := srv.endCalls
	srv.mu.Unlock()
	if ends != 1 {
		t.Fatalf("expected one end_stream call got %d", ends)
	}
}

func TestToggleMuteFlipsAudioTracksOnly(t *testing.T) {
	audio := &stubTrack{kind: "audio", enabled: true}
	video := &stubTrack{kind: "video", enabled: true}
	ctrl := newLiveFixture(t, pendingFixtureServer(), &stubOpener{stream: &stubStream{tracks: []Track{audio, video}}})

	if err := ctrl.Join(context.Background(), "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if muted := ctrl.ToggleMute(); !muted {
		t.Fatal("expected muted after first toggle")
	}
	if audio.isEnabled() {
		t.Fatal("expected audio track disabled while muted")
	}
	if !video.isEnabled() {
		t.Fatal("video track must be untouched by mute")
	}

	if muted := ctrl.ToggleMute(); muted {
		t.Fatal("expected unmuted after second toggle")
	}
	if !audio.isEnabled() {
		t.Fatal("expected audio track re-enabled")
	}
}

func TestSendMessageFoldsIntoFeed(t *testing.T) {
	srv := pendingFixtureServer()
	ctrl := newLiveFixture(t, srv, &stubOpener{err: ErrNoDevice})

	ctx := context.Background()
	if err := ctrl.Join(ctx, "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	msg, err := ctrl.SendMessage(ctx, "hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if msg.ID != "m1" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	waitFor(t, ctrl, func() bool {
		state, _ := ctrl.Active()
		for _, m := range state.Messages {
			if m.ID == "m1" {
				return true
			}
		}
		return false
	})
}

func TestRefreshSessionsReplacesCache(t *testing.T) {
	srv := pendingFixtureServer()
	ctrl := newLiveFixture(t, srv, nil)

	if err := ctrl.RefreshSessions(context.Background()); err != nil {
		t.Fatalf("refresh sessions: %v", err)
	}
	sessions := ctrl.Sessions()
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}
