// Package media is the canonical video catalogue implementation: one
// interface, one server-backed implementation, with like/comment as
// intent-tracked optimistic mutations.
package media

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/honeyecosystem/sync/internal/cache"
	"github.com/honeyecosystem/sync/internal/intent"
	"github.com/honeyecosystem/sync/internal/logging"
	"github.com/honeyecosystem/sync/internal/models"
	"github.com/honeyecosystem/sync/internal/restclient"
	"github.com/honeyecosystem/sync/internal/store"
)

const (
	videosPath     = "/api/v1/video/videos/"
	categoriesPath = "/api/v1/video/categories/"
)

func likePath(id string) string    { return fmt.Sprintf("%s%s/like/", videosPath, id) }
func commentPath(id string) string { return fmt.Sprintf("%s%s/comment/", videosPath, id) }

// Catalog is the single canonical media interface.
type Catalog interface {
	Videos(ctx context.Context, search string) ([]models.Video, error)
	Video(ctx context.Context, id string) (models.Video, error)
	ToggleLike(ctx context.Context, id string)
	Comment(ctx context.Context, id, text string)
	Categories(ctx context.Context) ([]string, error)
}

// Service implements Catalog against the REST backend.
type Service struct {
	client *restclient.Client

	videos  *cache.Collection[models.Video]
	intents *intent.Journal[models.Video]

	mu       sync.Mutex
	comments map[string]*cache.Collection[models.Comment]
	backend  store.Store

	onPending func(int)
	seq       atomic.Uint64
	inflight  sync.WaitGroup
}

var _ Catalog = (*Service)(nil)

// NewService constructs the media service. onPending, when non-nil, observes
// the number of unresolved optimistic intents; pass nil to ignore.
func NewService(client *restclient.Client, backend store.Store, onPending func(int)) *Service {
	s := &Service{
		client:    client,
		backend:   backend,
		videos:    cache.NewCollection[models.Video]("videos", backend),
		intents:   intent.NewJournal[models.Video](),
		comments:  make(map[string]*cache.Collection[models.Comment]),
		onPending: onPending,
	}
	s.videos.SetOverlay(s.intents.Apply)
	return s
}

// Videos fetches the catalogue, replacing the cache. Pending like intents
// stay applied on top of the fresh base, so an in-flight toggle is not
// clobbered by the poll response.
func (s *Service) Videos(ctx context.Context, search string) ([]models.Video, error) {
	seq := s.seq.Add(1)

	query := url.Values{}
	if search != "" {
		query.Set("search", search)
	}

	var list restclient.List[models.Video]
	if err := s.client.Get(ctx, videosPath, query, &list); err != nil {
		return s.videos.Snapshot(), err
	}
	s.videos.Replace(list.Items, seq)
	return s.videos.Snapshot(), nil
}

// CachedVideos returns the last-fetched catalogue with intents applied.
func (s *Service) CachedVideos() []models.Video {
	return s.videos.Snapshot()
}

// Video fetches one catalogue entry.
func (s *Service) Video(ctx context.Context, id string) (models.Video, error) {
	var video models.Video
	if err := s.client.Get(ctx, fmt.Sprintf("%s%s/", videosPath, id), nil, &video); err != nil {
		return models.Video{}, err
	}
	return video, nil
}

// ToggleLike flips the local like state immediately and dispatches the call
// without blocking. On a confirmed response the authoritative counts replace
// the optimistic ones; on failure the intent is dropped, replaying the
// original state. Two immediate toggles therefore net out locally and still
// dispatch two calls.
func (s *Service) ToggleLike(ctx context.Context, id string) {
	intentID := s.intents.Add(func(items []models.Video) []models.Video {
		for i := range items {
			if items[i].ID == id {
				if items[i].IsLiked {
					items[i].IsLiked = false
					items[i].LikesCount--
				} else {
					items[i].IsLiked = true
					items[i].LikesCount++
				}
			}
		}
		return items
	})
	s.pendingChanged()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.pendingChanged()

		var resp struct {
			IsLiked    bool `json:"is_liked"`
			LikesCount int  `json:"likes_count"`
		}
		err := s.client.Post(ctx, likePath(id), nil, &resp)
		if err != nil {
			logging.FromContext(ctx).Warn("like toggle failed", "video", id, "error", err)
			s.intents.Resolve(intentID)
			return
		}

		s.videos.PatchBase(func(items []models.Video) []models.Video {
			for i := range items {
				if items[i].ID == id {
					items[i].IsLiked = resp.IsLiked
					items[i].LikesCount = resp.LikesCount
				}
			}
			return items
		})
		s.intents.Resolve(intentID)
	}()
}

// Comment optimistically appends the comment locally and dispatches the call
// without blocking, with the same resolve-or-rollback handling as likes.
func (s *Service) Comment(ctx context.Context, id, text string) {
	coll := s.commentCache(id)
	provisionalID := "pending-" + uuid.NewString()
	provisional := models.Comment{ID: provisionalID, Text: text, CreatedAt: time.Now().UTC()}

	coll.PatchBase(func(items []models.Comment) []models.Comment {
		return append(items, provisional)
	})

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		var created models.Comment
		err := s.client.Post(ctx, commentPath(id), map[string]string{"text": text}, &created)

		coll.PatchBase(func(items []models.Comment) []models.Comment {
			out := items[:0]
			for _, c := range items {
				if c.ID != provisionalID {
					out = append(out, c)
				}
			}
			if err == nil {
				out = append(out, created)
			}
			return out
		})
		if err != nil {
			logging.FromContext(ctx).Warn("comment failed", "video", id, "error", err)
		}
	}()
}

// CommentsFor returns the cached comment feed for a video.
func (s *Service) CommentsFor(videoID string) []models.Comment {
	return s.commentCache(videoID).Snapshot()
}

// RefreshComments fetches the authoritative comment feed for a video.
func (s *Service) RefreshComments(ctx context.Context, videoID string) ([]models.Comment, error) {
	coll := s.commentCache(videoID)

	var list restclient.List[models.Comment]
	if err := s.client.Get(ctx, commentPath(videoID), nil, &list); err != nil {
		return coll.Snapshot(), err
	}
	coll.Replace(list.Items, s.seq.Add(1))
	return coll.Snapshot(), nil
}

// Categories lists the video categories.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	var list restclient.List[string]
	if err := s.client.Get(ctx, categoriesPath, nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// Flush waits for in-flight optimistic dispatches, for orderly shutdown.
func (s *Service) Flush() {
	s.inflight.Wait()
}

func (s *Service) commentCache(videoID string) *cache.Collection[models.Comment] {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.comments[videoID]
	if !ok {
		coll = cache.NewCollection[models.Comment]("video_comments:"+videoID, s.backend)
		s.comments[videoID] = coll
	}
	return coll
}

func (s *Service) pendingChanged() {
	if s.onPending != nil {
		s.onPending(s.intents.Pending())
	}
}
