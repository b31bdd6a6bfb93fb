package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/medchain-server/internal/crypto"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/rongwang/medchain-server/internal/repository"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an identity. Patients also get the genesis block of their ledger.
func (s *DefaultService) SignUp(ctx context.Context, req models.SignUpRequest) (*models.User, error) {
	if !req.Role.Valid() || strings.TrimSpace(req.Name) == "" {
		return nil, ErrInvalidInput
	}
	hasPassword := req.Password != ""
	hasWallet := strings.TrimSpace(req.WalletAddress) != ""
	if hasPassword == hasWallet {
		return nil, ErrInvalidCredentials
	}

	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, ErrInvalidInput
	}

	// Check if user already exists
	existingUser, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("error checking user existence: %w", err)
	}
	if existingUser != nil {
		return nil, ErrDuplicateEmail
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      strings.TrimSpace(req.Name),
		Role:      req.Role,
		CreatedAt: now,
	}

	if hasPassword {
		salt, err := crypto.RandomSalt(crypto.DefaultSaltLength)
		if err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(req.Password, salt)
		if err != nil {
			return nil, err
		}
		user.AuthMethod = models.AuthMethodPassword
		user.SaltHex = salt
		user.PasswordHashHex = hash
	} else {
		user.AuthMethod = models.AuthMethodWallet
		user.WalletAddress = strings.TrimSpace(req.WalletAddress)
	}

	if err := s.repo.PutUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	s.log.Info("created %s identity %s", user.Role, user.ID)

	if user.Role == models.RolePatient {
		if err := s.appendBlock(ctx, user.ID, models.GenesisPayload{}, user.ID); err != nil {
			return nil, err
		}
	}

	return user, nil
}

// Authenticate checks a password or a wallet address against the stored identity.
// Wallet signatures are verified upstream; here the address must match.
func (s *DefaultService) Authenticate(ctx context.Context, req models.LoginRequest) (*models.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if user == nil {
		return nil, ErrAuthenticationFailed
	}

	switch {
	case req.Password != "" && user.AuthMethod == models.AuthMethodPassword:
		if user.SaltHex == "" || user.PasswordHashHex == "" {
			return nil, ErrAuthenticationFailed
		}
		if !s.hasher.Verify(req.Password, user.SaltHex, user.PasswordHashHex) {
			return nil, ErrAuthenticationFailed
		}
	case req.WalletAddress != "" && user.AuthMethod == models.AuthMethodWallet:
		if user.WalletAddress == "" || !strings.EqualFold(strings.TrimSpace(req.WalletAddress), user.WalletAddress) {
			return nil, ErrAuthenticationFailed
		}
	default:
		return nil, ErrAuthenticationFailed
	}

	return user, nil
}

func (s *DefaultService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	user, err := s.Authenticate(ctx, req)
	if err != nil {
		return nil, err
	}

	// Generate JWT token
	token, err := s.generateJWT(user)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	return &models.AuthResponse{
		Status:    "success",
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		Token:     token,
		ExpiresIn: int(s.tokenDuration.Seconds()),
	}, nil
}

// ResolveCaller turns an authenticated user id into a Caller
func (s *DefaultService) ResolveCaller(ctx context.Context, userID string) (models.Caller, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return models.Caller{}, fmt.Errorf("error getting user: %w", err)
	}
	if user == nil {
		return models.Caller{}, ErrAuthenticationFailed
	}
	return models.CallerFromUser(user), nil
}

func (s *DefaultService) GetUser(ctx context.Context, caller models.Caller) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// UpdateProfile replaces the caller's own profile attributes
func (s *DefaultService) UpdateProfile(ctx context.Context, caller models.Caller, profile models.Profile) (*models.User, error) {
	user, err := s.GetUser(ctx, caller)
	if err != nil {
		return nil, err
	}
	user.Profile = profile
	if err := s.repo.PutUser(ctx, user); err != nil {
		return nil, fmt.Errorf("error updating profile: %w", err)
	}
	return user, nil
}

func (s *DefaultService) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	if !role.Valid() {
		return nil, ErrInvalidInput
	}
	users, err := s.repo.ListUsersByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	return users, nil
}
