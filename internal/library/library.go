// Package library wraps the book catalogue and the user's saved books.
package library

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/honeyecosystem/sync/internal/cache"
	"github.com/honeyecosystem/sync/internal/models"
	"github.com/honeyecosystem/sync/internal/restclient"
	"github.com/honeyecosystem/sync/internal/store"
)

const (
	booksPath      = "/api/v1/library/books/"
	categoriesPath = "/api/v1/library/categories/"
	genresPath     = "/api/v1/library/genres/"
	userBooksPath  = "/api/v1/library/user-books/"
	downloadPath   = "/api/v1/library/user-books/download/"
)

// Service owns the library caches.
type Service struct {
	client *restclient.Client

	books   *cache.Collection[models.Book]
	myBooks *cache.Collection[models.UserBook]

	seq atomic.Uint64
}

// NewService constructs the library service, reloading mirrored caches.
func NewService(client *restclient.Client, backend store.Store) *Service {
	return &Service{
		client:  client,
		books:   cache.NewCollection[models.Book]("library_books", backend),
		myBooks: cache.NewCollection[models.UserBook]("library_user_books", backend),
	}
}

// Books fetches the catalogue with optional search and category filters,
// replacing the cache. The previously cached copy is returned on failure.
func (s *Service) Books(ctx context.Context, search, category string) ([]models.Book, error) {
	seq := s.seq.Add(1)

	query := url.Values{}
	if search != "" {
		query.Set("search", search)
	}
	if category != "" {
		query.Set("category", category)
	}

	var list restclient.List[models.Book]
	if err := s.client.Get(ctx, booksPath, query, &list); err != nil {
		return s.books.Snapshot(), err
	}
	s.books.Replace(list.Items, seq)
	return s.books.Snapshot(), nil
}

// CachedBooks returns the last-fetched catalogue.
func (s *Service) CachedBooks() []models.Book {
	return s.books.Snapshot()
}

// Book fetches a single catalogue entry.
func (s *Service) Book(ctx context.Context, id string) (models.Book, error) {
	var book models.Book
	if err := s.client.Get(ctx, fmt.Sprintf("%s%s/", booksPath, id), nil, &book); err != nil {
		return models.Book{}, err
	}
	return book, nil
}

// Categories lists the catalogue categories.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	var list restclient.List[string]
	if err := s.client.Get(ctx, categoriesPath, nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// Genres lists the catalogue genres.
func (s *Service) Genres(ctx context.Context) ([]string, error) {
	var list restclient.List[string]
	if err := s.client.Get(ctx, genresPath, nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// MyBooks fetches the user's saved books, replacing the cache.
func (s *Service) MyBooks(ctx context.Context) ([]models.UserBook, error) {
	seq := s.seq.Add(1)

	var list restclient.List[models.UserBook]
	if err := s.client.Get(ctx, userBooksPath, nil, &list); err != nil {
		return s.myBooks.Snapshot(), err
	}
	s.myBooks.Replace(list.Items, seq)
	return s.myBooks.Snapshot(), nil
}

// Download adds a book to the user's saved list and folds the created link
// into the cache.
func (s *Service) Download(ctx context.Context, bookID string) (models.UserBook, error) {
	var created models.UserBook
	if err := s.client.Post(ctx, downloadPath, map[string]string{"book_id": bookID}, &created); err != nil {
		return models.UserBook{}, err
	}
	s.myBooks.PatchBase(func(items []models.UserBook) []models.UserBook {
		for _, existing := range items {
			if existing.ID == created.ID {
				return items
			}
		}
		return append(items, created)
	})
	return created, nil
}

// Remove deletes a saved book link.
func (s *Service) Remove(ctx context.Context, userBookID string) error {
	if err := s.client.Delete(ctx, fmt.Sprintf("%s%s/", userBooksPath, userBookID)); err != nil {
		return err
	}
	s.myBooks.PatchBase(func(items []models.UserBook) []models.UserBook {
		out := items[:0]
		for _, ub := range items {
			if ub.ID != userBookID {
				out = append(out, ub)
			}
		}
		return out
	})
	return nil
}
