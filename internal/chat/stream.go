package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/honeyecosystem/sync/internal/logging"
	"github.com/honeyecosystem/sync/internal/models"
	"github.com/honeyecosystem/sync/internal/tokenstore"
)

// Stream subscribes to a chat room's websocket feed so new messages land in
// the cache between poll ticks. Any stream error ends the subscription
// silently; polling remains the fallback.
type Stream struct {
	base   string
	tokens *tokenstore.Store
	dial   func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)
}

// NewStream derives the websocket origin from the API base URL.
func NewStream(apiBaseURL string, tokens *tokenstore.Store) *Stream {
	base := strings.TrimRight(apiBaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return &Stream{
		base:   base,
		tokens: tokens,
		dial: func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
			return conn, err
		},
	}
}

type frame struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// Run connects to the room feed and invokes onMessage for every incoming
// chat message until the context is cancelled or the stream fails.
func (st *Stream) Run(ctx context.Context, room string, isGroup bool, onMessage func(models.ChatMessage)) error {
	tokens, ok := st.tokens.Tokens()
	if !ok {
		return fmt.Errorf("subscribe %s: no active session", room)
	}

	path := fmt.Sprintf("%s/ws/chat/%s/", st.base, room)
	if isGroup {
		path = fmt.Sprintf("%s/ws/chat/group/%s/", st.base, room)
	}

	header := http.Header{"Authorization": []string{"Bearer " + tokens.AccessToken}}
	conn, err := st.dial(ctx, path, header)
	if err != nil {
		return fmt.Errorf("dial chat stream: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller goes away.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	logger := logging.FromContext(ctx)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read chat stream: %w", err)
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			logger.Debug("discard malformed stream frame", "error", err)
			continue
		}
		if f.Type != "message" && f.Type != "chat_message" {
			continue
		}

		var msg models.ChatMessage
		raw := f.Message
		if len(raw) == 0 {
			raw = payload
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Debug("discard undecodable stream message", "error", err)
			continue
		}
		onMessage(msg)
	}
}
