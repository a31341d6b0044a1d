package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/miracsucu4417/image-processing-service/internal/ids"
	"github.com/miracsucu4417/image-processing-service/internal/models"
	"github.com/miracsucu4417/image-processing-service/internal/repository"
	"github.com/miracsucu4417/image-processing-service/internal/security"
	"github.com/miracsucu4417/image-processing-service/internal/transform"
)

const (
	MaxUsernameLength = 30
	MinPasswordLength = 6
)

type UserStore interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
}

type AuthService struct {
	users  UserStore
	tokens *security.TokenIssuer
	hash   func(string) ([]byte, error)
	log    zerolog.Logger
}

func NewAuthService(users UserStore, tokens *security.TokenIssuer, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		hash:   security.HashPassword,
		log:    log,
	}
}

type Credentials struct {
	Username string
	Password string
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      models.User
}

func (s *AuthService) Register(ctx context.Context, in Credentials) (models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if verr := validateCredentials(in); verr != nil {
		return models.User{}, verr
	}

	passwordHash, err := s.hash(in.Password)
	if err != nil {
		return models.User{}, upstream("hash password", err)
	}

	user, err := s.users.Create(ctx, models.User{
		ID:           ids.New(),
		Username:     in.Username,
		PasswordHash: passwordHash,
	})
	if err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, upstream("create user", err)
	}

	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, in Credentials) (LoginResult, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(in.Username))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, upstream("find user", err)
	}

	ok, err := security.VerifyPassword(in.Password, user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("stored password hash unreadable")
		return LoginResult{}, ErrInvalidCredentials
	}
	if !ok {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return LoginResult{}, upstream("issue token", err)
	}

	return LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func validateCredentials(in Credentials) *ValidationError {
	var fields []transform.FieldError
	add := func(field, msg string) {
		fields = append(fields, transform.FieldError{Field: field, Message: msg})
	}

	switch {
	case in.Username == "":
		add("username", "is required")
	case utf8.RuneCountInString(in.Username) > MaxUsernameLength:
		add("username", "must be at most 30 characters")
	}

	if msg := passwordProblem(in.Password); msg != "" {
		add("password", msg)
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

func passwordProblem(password string) string {
	if password == "" {
		return "is required"
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return "must be at least 6 characters"
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !lower || !upper || !digit || !symbol {
		return "must contain a lowercase letter, an uppercase letter, a digit and a symbol"
	}
	return ""
}
