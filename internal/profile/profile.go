// Package profile wraps the self-profile endpoints and keeps the locally
// cached profile copy in step with updates.
package profile

import (
	"context"
	"fmt"
	"net/http"

	"github.com/honeyecosystem/sync/internal/models"
	"github.com/honeyecosystem/sync/internal/restclient"
	"github.com/honeyecosystem/sync/internal/tokenstore"
)

const (
	mePath             = "/api/v1/auth/profile/"
	updatePath         = "/api/v1/auth/profile/update/"
	statsPath          = "/api/v1/auth/profile/stats/"
	deletePath         = "/api/v1/auth/profile/delete/"
	changePasswordPath = "/api/v1/auth/profile/change-password/"
)

// Service exposes the profile operations.
type Service struct {
	client *restclient.Client
	tokens *tokenstore.Store
}

// NewService constructs the profile service.
func NewService(client *restclient.Client, tokens *tokenstore.Store) *Service {
	return &Service{client: client, tokens: tokens}
}

// Me fetches the authoritative profile and refreshes the local copy.
func (s *Service) Me(ctx context.Context) (models.UserProfile, error) {
	var profile models.UserProfile
	if err := s.client.Get(ctx, mePath, nil, &profile); err != nil {
		return models.UserProfile{}, err
	}
	if err := s.tokens.SetProfile(profile); err != nil {
		return models.UserProfile{}, fmt.Errorf("cache profile: %w", err)
	}
	return profile, nil
}

// UpdateInput carries the editable profile fields. Nil pointers are omitted
// from the PATCH payload.
type UpdateInput struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
	Bio      *string `json:"bio,omitempty"`
}

// Update patches the profile and eagerly applies the response to the local
// copy without waiting for a re-fetch.
func (s *Service) Update(ctx context.Context, input UpdateInput) (models.UserProfile, error) {
	var updated models.UserProfile
	if err := s.client.Patch(ctx, updatePath, input, &updated); err != nil {
		return models.UserProfile{}, err
	}
	if err := s.tokens.SetProfile(updated); err != nil {
		return models.UserProfile{}, fmt.Errorf("cache profile: %w", err)
	}
	return updated, nil
}

// ChangePassword rotates the account password.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword, confirm string) error {
	return s.client.Post(ctx, changePasswordPath, map[string]string{
		"old_password":     oldPassword,
		"new_password":     newPassword,
		"confirm_password": confirm,
	}, nil)
}

// Stats fetches the profile's aggregate counters.
func (s *Service) Stats(ctx context.Context) (models.ProfileStats, error) {
	var stats models.ProfileStats
	if err := s.client.Get(ctx, statsPath, nil, &stats); err != nil {
		return models.ProfileStats{}, err
	}
	return stats, nil
}

// Delete removes the account and clears the local session.
func (s *Service) Delete(ctx context.Context) error {
	if err := s.client.Do(ctx, restclient.Request{Method: http.MethodDelete, Path: deletePath}, nil); err != nil {
		return err
	}
	return s.tokens.Clear()
}
