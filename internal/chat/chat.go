// Package chat synchronizes the merged direct-chat/group list, per-chat
// message feeds, search, and the AI assistant passthroughs.
package chat

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/honeyecosystem/sync/internal/cache"
	"github.com/honeyecosystem/sync/internal/models"
	"github.com/honeyecosystem/sync/internal/restclient"
	"github.com/honeyecosystem/sync/internal/store"
)

const (
	chatsPath        = "/api/v1/chat/chats/"
	groupsPath       = "/api/v1/chat/groups/"
	globalSearchPath = "/api/v1/chat/search/"
	aiChatPath       = "/api/v1/chat/ai/chat/"
	aiSearchPath     = "/api/v1/chat/ai/search/"
	aiImprovePath    = "/api/v1/chat/ai/improve/"
)

func messagesPath(chatID string, isGroup bool) string {
	if isGroup {
		return fmt.Sprintf("/api/v1/chat/groups/%s/messages/", chatID)
	}
	return fmt.Sprintf("/api/v1/chat/chats/%s/messages/", chatID)
}

func sendPath(chatID string, isGroup bool) string {
	if isGroup {
		return fmt.Sprintf("/api/v1/chat/groups/%s/send/", chatID)
	}
	return fmt.Sprintf("/api/v1/chat/chats/%s/send/", chatID)
}

func messageDeletePath(messageID string) string {
	return fmt.Sprintf("/api/v1/chat/messages/%s/", messageID)
}

// Service owns the chat caches. The chat list replaces wholesale on every
// refresh and is always sorted descending by updated_at.
type Service struct {
	client  *restclient.Client
	backend store.Store

	chats *cache.Collection[models.ChatSummary]
	ai    *cache.Collection[models.AIMessage]

	mu       sync.Mutex
	messages map[string]*cache.Collection[models.ChatMessage]

	seq atomic.Uint64
}

// NewService constructs the chat service, reloading mirrored caches.
func NewService(client *restclient.Client, backend store.Store) *Service {
	return &Service{
		client:   client,
		backend:  backend,
		chats:    cache.NewCollection[models.ChatSummary]("chats", backend),
		ai:       cache.NewCollection[models.AIMessage]("ai_transcript", backend),
		messages: make(map[string]*cache.Collection[models.ChatMessage]),
	}
}

// RefreshChats fetches direct chats and groups concurrently, merges them and
// replaces the chat list. The sequence is taken at fetch start so a slower,
// earlier-started refresh can never overwrite a newer one.
func (s *Service) RefreshChats(ctx context.Context) error {
	seq := s.seq.Add(1)

	var directs, groups restclient.List[models.ChatSummary]
	group, fetchCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.client.Get(fetchCtx, chatsPath, nil, &directs)
	})
	group.Go(func() error {
		return s.client.Get(fetchCtx, groupsPath, nil, &groups)
	})
	if err := group.Wait(); err != nil {
		return err
	}

	merged := make([]models.ChatSummary, 0, len(directs.Items)+len(groups.Items))
	for _, c := range directs.Items {
		c.IsGroup = false
		merged = append(merged, c)
	}
	for _, g := range groups.Items {
		g.IsGroup = true
		merged = append(merged, g)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
	})

	s.chats.Replace(merged, seq)
	return nil
}

// Chats returns the current merged chat list.
func (s *Service) Chats() []models.ChatSummary {
	return s.chats.Snapshot()
}

// ChatsCache exposes the underlying collection for subscribers.
func (s *Service) ChatsCache() *cache.Collection[models.ChatSummary] {
	return s.chats
}

// Messages fetches the message feed for one chat, replacing its cache.
func (s *Service) Messages(ctx context.Context, chatID string, isGroup bool) ([]models.ChatMessage, error) {
	coll := s.messageCache(chatID)

	var list restclient.List[models.ChatMessage]
	if err := s.client.Get(ctx, messagesPath(chatID, isGroup), nil, &list); err != nil {
		return coll.Snapshot(), err
	}
	coll.Replace(list.Items, s.seq.Add(1))
	return coll.Snapshot(), nil
}

// CachedMessages returns the last-fetched feed for a chat without a network
// round trip.
func (s *Service) CachedMessages(chatID string) []models.ChatMessage {
	return s.messageCache(chatID).Snapshot()
}

// Send posts a message and folds the created record into the feed cache so
// the sender sees it before the next poll.
func (s *Service) Send(ctx context.Context, chatID, content string, isGroup bool) (models.ChatMessage, error) {
	var created models.ChatMessage
	err := s.client.Post(ctx, sendPath(chatID, isGroup), map[string]string{"content": content}, &created)
	if err != nil {
		return models.ChatMessage{}, err
	}
	s.appendMessage(chatID, created)
	return created, nil
}

// DeleteMessage removes a message. There is no edit operation; delete is the
// only destructive message call.
func (s *Service) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if err := s.client.Delete(ctx, messageDeletePath(messageID)); err != nil {
		return err
	}
	s.messageCache(chatID).PatchBase(func(items []models.ChatMessage) []models.ChatMessage {
		out := items[:0]
		for _, m := range items {
			if m.ID != messageID {
				out = append(out, m)
			}
		}
		return out
	})
	return nil
}

// CreateChat opens (or returns) the direct chat with another user.
func (s *Service) CreateChat(ctx context.Context, userID string) (models.ChatSummary, error) {
	var created models.ChatSummary
	if err := s.client.Post(ctx, chatsPath, map[string]string{"user_id": userID}, &created); err != nil {
		return models.ChatSummary{}, err
	}
	return created, nil
}

// SearchResults groups the global search response.
type SearchResults struct {
	Users  []models.UserRef     `json:"users"`
	Groups []models.ChatSummary `json:"groups"`
}

// Search runs the global user/group search.
func (s *Service) Search(ctx context.Context, query string) (SearchResults, error) {
	var results SearchResults
	q := url.Values{"search": []string{query}}
	if err := s.client.Get(ctx, globalSearchPath, q, &results); err != nil {
		return SearchResults{}, err
	}
	return results, nil
}

// AIChat sends one assistant turn and appends both sides to the durably
// cached transcript.
func (s *Service) AIChat(ctx context.Context, message string) (string, error) {
	var resp struct {
		Reply string `json:"reply"`
		Text  string `json:"text"`
	}
	if err := s.client.Post(ctx, aiChatPath, map[string]string{"message": message}, &resp); err != nil {
		return "", err
	}
	reply := resp.Reply
	if reply == "" {
		reply = resp.Text
	}

	now := time.Now().UTC()
	s.ai.PatchBase(func(items []models.AIMessage) []models.AIMessage {
		return append(items,
			models.AIMessage{Role: "user", Content: message, CreatedAt: now},
			models.AIMessage{Role: "assistant", Content: reply, CreatedAt: now},
		)
	})
	return reply, nil
}

// AISearch runs the grounded AI search passthrough.
func (s *Service) AISearch(ctx context.Context, query string) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	if err := s.client.Post(ctx, aiSearchPath, map[string]string{"query": query}, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// AIImprove rewrites the provided text through the assistant.
func (s *Service) AIImprove(ctx context.Context, text string) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	if err := s.client.Post(ctx, aiImprovePath, map[string]string{"text": text}, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Transcript returns the locally cached assistant conversation.
func (s *Service) Transcript() []models.AIMessage {
	return s.ai.Snapshot()
}

func (s *Service) messageCache(chatID string) *cache.Collection[models.ChatMessage] {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.messages[chatID]
	if !ok {
		coll = cache.NewCollection[models.ChatMessage]("chat_messages:"+chatID, s.backend)
		s.messages[chatID] = coll
	}
	return coll
}

func (s *Service) appendMessage(chatID string, msg models.ChatMessage) {
	s.messageCache(chatID).PatchBase(func(items []models.ChatMessage) []models.ChatMessage {
		for _, existing := range items {
			if existing.ID == msg.ID {
				return items
			}
		}
		return append(items, msg)
	})
}
