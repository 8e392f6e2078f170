// Package auth implements the client side of the authentication flows:
// login, registration, email verification, logout and the OAuth callback.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/honeyecosystem/sync/internal/models"
	"github.com/honeyecosystem/sync/internal/restclient"
	"github.com/honeyecosystem/sync/internal/tokenstore"
)

const (
	loginPath       = "/api/v1/auth/login/"
	registerPath    = "/api/v1/auth/register/"
	verifyEmailPath = "/api/v1/auth/verify-email/"
	logoutPath      = "/api/v1/auth/logout/"
)

var (
	// ErrInvalidCredentials indicates the backend rejected the login pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError carries field-specific messages for form rendering.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %d field(s)", len(e.Fields))
}

// Service owns the session lifecycle against the auth endpoints.
type Service struct {
	client   *restclient.Client
	tokens   *tokenstore.Store
	validate *validator.Validate
}

// NewService constructs the auth service.
func NewService(client *restclient.Client, tokens *tokenstore.Store) *Service {
	return &Service{
		client:   client,
		tokens:   tokens,
		validate: validator.New(),
	}
}

type loginResponse struct {
	Access  string             `json:"access"`
	Refresh string             `json:"refresh"`
	User    models.UserProfile `json:"user"`
}

// Login exchanges a username/password pair for a session, persisting the
// credentials and the returned profile.
func (s *Service) Login(ctx context.Context, username, password string) (models.UserProfile, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return models.UserProfile{}, &ValidationError{Fields: map[string]string{
			"username": "username and password are required",
		}}
	}

	var resp loginResponse
	err := s.client.Do(ctx, restclient.Request{
		Method:   http.MethodPost,
		Path:     loginPath,
		Body:     map[string]string{"username": username, "password": password},
		SkipAuth: true,
	}, &resp)
	if err != nil {
		if restclient.IsStatus(err, http.StatusUnauthorized) || restclient.IsStatus(err, http.StatusBadRequest) {
			return models.UserProfile{}, ErrInvalidCredentials
		}
		return models.UserProfile{}, err
	}

	if err := s.tokens.SetTokens(resp.Access, resp.Refresh); err != nil {
		return models.UserProfile{}, fmt.Errorf("store session: %w", err)
	}
	if err := s.tokens.SetProfile(resp.User); err != nil {
		return models.UserProfile{}, fmt.Errorf("store profile: %w", err)
	}
	return resp.User, nil
}

// RegisterInput is the signup form payload.
type RegisterInput struct {
	Username        string `json:"username" validate:"required,min=3,max=64"`
	Email           string `json:"email" validate:"required,email"`
	Phone           string `json:"phone,omitempty" validate:"omitempty,min=7,max=20"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

// Register creates an account. The backend responds by sending an email
// verification code; the session starts only after VerifyEmail and Login.
func (s *Service) Register(ctx context.Context, input RegisterInput) error {
	if err := s.checkInput(input); err != nil {
		return err
	}
	return s.client.Do(ctx, restclient.Request{
		Method:   http.MethodPost,
		Path:     registerPath,
		Body:     input,
		SkipAuth: true,
	}, nil)
}

// VerifyEmail confirms the emailed verification code.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	if err := s.checkInput(struct {
		Email string `validate:"required,email"`
		Code  string `validate:"required"`
	}{email, code}); err != nil {
		return err
	}
	return s.client.Do(ctx, restclient.Request{
		Method:   http.MethodPost,
		Path:     verifyEmailPath,
		Body:     map[string]string{"email": email, "code": code},
		SkipAuth: true,
	}, nil)
}

// Logout invalidates the session server-side on a best-effort basis and
// always clears the local credentials.
func (s *Service) Logout(ctx context.Context) error {
	tokens, ok := s.tokens.Tokens()
	if ok {
		_ = s.client.Do(ctx, restclient.Request{
			Method: http.MethodPost,
			Path:   logoutPath,
			Body: map[string]string{
				"refresh_token": tokens.RefreshToken,
				"access_token":  tokens.AccessToken,
			},
		}, nil)
	}
	return s.tokens.Clear()
}

// HandleOAuthCallback consumes the parameters the identity provider appends
// to the URL hash fragment: access, refresh, a JSON-encoded user, or error.
func (s *Service) HandleOAuthCallback(fragment string) (models.UserProfile, error) {
	params, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("parse callback fragment: %w", err)
	}

	if msg := params.Get("error"); msg != "" {
		return models.UserProfile{}, fmt.Errorf("provider rejected sign-in: %s", msg)
	}

	access, refresh := params.Get("access"), params.Get("refresh")
	if access == "" || refresh == "" {
		return models.UserProfile{}, errors.New("callback fragment missing tokens")
	}

	var profile models.UserProfile
	if raw := params.Get("user"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &profile); err != nil {
			return models.UserProfile{}, fmt.Errorf("decode callback user: %w", err)
		}
	}

	if err := s.tokens.SetTokens(access, refresh); err != nil {
		return models.UserProfile{}, fmt.Errorf("store session: %w", err)
	}
	if profile.Username != "" {
		if err := s.tokens.SetProfile(profile); err != nil {
			return models.UserProfile{}, fmt.Errorf("store profile: %w", err)
		}
	}
	return profile, nil
}

func (s *Service) checkInput(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[strings.ToLower(fe.Field())] = fieldMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "invalid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "eqfield":
		return "passwords do not match"
	default:
		return "invalid value"
	}
}
