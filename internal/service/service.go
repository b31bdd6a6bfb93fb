package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rongwang/medchain-server/internal/crypto"
	"github.com/rongwang/medchain-server/internal/ledger"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/rongwang/medchain-server/internal/permission"
	"github.com/rongwang/medchain-server/internal/repository"
	"github.com/rongwang/medchain-server/internal/utils"
)

var (
	ErrDuplicateEmail       = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("exactly one of password or wallet address must be provided")
	ErrAuthenticationFailed = errors.New("invalid email or credentials")
	ErrNotAuthorized        = errors.New("not authorized to perform this action")
	ErrNoAccess             = errors.New("no access to this patient")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrDuplicateGrant       = permission.ErrDuplicateGrant
)

// FileUpload is an attachment supplied with a report
type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Service defines all the business logic operations. Every gated
// operation takes the authenticated caller explicitly.
type Service interface {
	// Identity
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.User, error)
	Authenticate(ctx context.Context, req models.LoginRequest) (*models.User, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error)
	ResolveCaller(ctx context.Context, userID string) (models.Caller, error)
	GetUser(ctx context.Context, caller models.Caller) (*models.User, error)
	UpdateProfile(ctx context.Context, caller models.Caller, profile models.Profile) (*models.User, error)
	ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)

	// Permissions
	Grant(ctx context.Context, caller models.Caller, patientID, doctorID string) (*models.Permission, error)
	Revoke(ctx context.Context, caller models.Caller, patientID, doctorID string) error
	HasAccess(ctx context.Context, caller models.Caller, patientID, doctorID string) (bool, error)
	ListMyPermissions(ctx context.Context, caller models.Caller) (*models.PermissionsResponse, error)

	// History
	AddReport(ctx context.Context, caller models.Caller, patientID, title string, file *FileUpload) (*models.RecordItem, error)
	AddNote(ctx context.Context, caller models.Caller, patientID, text string) (*models.RecordItem, error)
	GetHistory(ctx context.Context, caller models.Caller, patientID string) ([]models.RecordItem, error)
	DownloadFile(ctx context.Context, caller models.Caller, recordID string) (*models.RecordItem, *models.FileBlob, error)

	// Prescriptions
	AddPrescription(ctx context.Context, caller models.Caller, patientID string, req models.PrescriptionRequest) (*models.Prescription, error)
	RemovePrescription(ctx context.Context, caller models.Caller, prescriptionID, patientID string) error
	ListPrescriptions(ctx context.Context, caller models.Caller, patientID string) ([]models.Prescription, error)

	// Ledger
	GetLedger(ctx context.Context, caller models.Caller, patientID string) (*models.LedgerResponse, error)
}

// Options configures a DefaultService
type Options struct {
	JWTSecret     string
	TokenDuration time.Duration
	Hasher        crypto.PasswordHasher
	// AppendRetries of 0 disables retries; negative selects the default of 3
	AppendRetries int
	Logger        *utils.Logger
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo          repository.Repository
	registry      *permission.Registry
	ledger        *ledger.Engine
	hasher        crypto.PasswordHasher
	log           *utils.Logger
	jwtSecret     []byte
	tokenDuration time.Duration
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, opts Options) *DefaultService {
	if opts.Hasher == nil {
		opts.Hasher = crypto.SaltedSHA256{}
	}
	if opts.Logger == nil {
		opts.Logger = utils.NopLogger()
	}
	if opts.TokenDuration == 0 {
		opts.TokenDuration = 24 * time.Hour // 24 hours token validity
	}
	if opts.AppendRetries < 0 {
		opts.AppendRetries = 3
	}

	return &DefaultService{
		repo:          repo,
		registry:      permission.NewRegistry(repo),
		ledger:        ledger.NewEngine(repo, ledger.WithRetries(opts.AppendRetries), ledger.WithLogger(opts.Logger.With("component", "ledger"))),
		hasher:        opts.Hasher,
		log:           opts.Logger,
		jwtSecret:     []byte(opts.JWTSecret),
		tokenDuration: opts.TokenDuration,
	}
}

// Ledger exposes the underlying engine
func (s *DefaultService) Ledger() *ledger.Engine {
	return s.ledger
}

// Registry exposes the underlying permission registry
func (s *DefaultService) Registry() *permission.Registry {
	return s.registry
}

// deny logs and returns an authorization failure
func (s *DefaultService) deny(caller models.Caller, action string, err error) error {
	s.log.Warn("denied %s for %s (%s): %v", action, caller.ID, caller.Role, err)
	return err
}

// requireDoctorAccess checks the caller is a doctor holding a live grant on patientID
func (s *DefaultService) requireDoctorAccess(ctx context.Context, caller models.Caller, patientID, action string) error {
	if caller.Role != models.RoleDoctor {
		return s.deny(caller, action, ErrNotAuthorized)
	}
	ok, err := s.registry.HasAccess(ctx, patientID, caller.ID)
	if err != nil {
		return err
	}
	if !ok {
		return s.deny(caller, action, ErrNoAccess)
	}
	return nil
}

// isOwner reports whether the caller is the patient whose records these are
func isOwner(caller models.Caller, patientID string) bool {
	return caller.Role == models.RolePatient && caller.ID == patientID
}

// appendBlock runs the second half of a two-phase write. The domain record
// is already stored; if this fails it remains without an audit entry.
func (s *DefaultService) appendBlock(ctx context.Context, patientID string, payload models.Payload, authorID string) error {
	if _, err := s.ledger.Append(ctx, patientID, payload, authorID); err != nil {
		s.log.Error(err, "ledger append failed for patient %s (%s %s)", patientID, payload.Type(), payload.Ref())
		return fmt.Errorf("error appending block: %w", err)
	}
	return nil
}

// Helper methods
func (s *DefaultService) generateJWT(user *models.User) (string, error) {
	expirationTime := time.Now().Add(s.tokenDuration)

	claims := jwt.MapClaims{
		"sub":  user.ID, // subject
		"role": string(user.Role),
		"exp":  expirationTime.Unix(),
		"iat":  time.Now().Unix(), // issued at
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
