package chat

import (
	"context"
	"sync"

	"github.com/honeyecosystem/sync/internal/logging"
	"github.com/honeyecosystem/sync/internal/models"
)

// Supervisor keeps one live subscription per cached chat, following the chat
// list as refreshes add and remove rooms. A failed stream is dropped and
// re-dialled on the next list change; polling covers the gap in between.
type Supervisor struct {
	stream *Stream
	svc    *Service

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewSupervisor constructs a supervisor over the given stream and service.
func NewSupervisor(stream *Stream, svc *Service) *Supervisor {
	return &Supervisor{
		stream:  stream,
		svc:     svc,
		running: make(map[string]context.CancelFunc),
	}
}

// Run reconciles subscriptions against the chat list until ctx is cancelled.
func (sv *Supervisor) Run(ctx context.Context) {
	updates := sv.svc.ChatsCache().Subscribe()

	sv.reconcile(ctx)
	for {
		select {
		case <-updates:
			sv.reconcile(ctx)
		case <-ctx.Done():
			sv.stopAll()
			return
		}
	}
}

func (sv *Supervisor) reconcile(ctx context.Context) {
	chats := sv.svc.Chats()
	wanted := make(map[string]bool, len(chats))
	for _, c := range chats {
		wanted[c.ID] = true
	}

	sv.mu.Lock()
	defer sv.mu.Unlock()

	for id, cancel := range sv.running {
		if !wanted[id] {
			cancel()
			delete(sv.running, id)
		}
	}

	for _, c := range chats {
		if _, ok := sv.running[c.ID]; ok {
			continue
		}
		roomCtx, cancel := context.WithCancel(ctx)
		sv.running[c.ID] = cancel

		chatID, isGroup := c.ID, c.IsGroup
		go func() {
			err := sv.stream.Run(roomCtx, chatID, isGroup, func(msg models.ChatMessage) {
				sv.svc.appendMessage(chatID, msg)
			})
			if err != nil {
				logging.FromContext(roomCtx).Debug("chat stream ended", "chat", chatID, "error", err)
			}
			sv.mu.Lock()
			if stored, ok := sv.running[chatID]; ok {
				stored()
				delete(sv.running, chatID)
			}
			sv.mu.Unlock()
		}()
	}
}

func (sv *Supervisor) stopAll() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	for id, cancel := range sv.running {
		cancel()
		delete(sv.running, id)
	}
}
