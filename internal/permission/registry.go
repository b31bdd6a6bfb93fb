package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/rongwang/medchain-server/internal/repository"
)

// ErrDuplicateGrant is returned when the pair already has a live grant
var ErrDuplicateGrant = errors.New("access already granted")

// Registry answers who may access whose records. A pair has at most one
// live Permission row; revocation deletes it.
type Registry struct {
	repo repository.Repository
}

// NewRegistry creates a registry over repo
func NewRegistry(repo repository.Repository) *Registry {
	return &Registry{repo: repo}
}

// Grant records that doctorID may access patientID's records
func (r *Registry) Grant(ctx context.Context, patientID, doctorID string) (*models.Permission, error) {
	existing, err := r.repo.GetPermission(ctx, patientID, doctorID)
	if err != nil {
		return nil, fmt.Errorf("error checking permission: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateGrant
	}

	perm := &models.Permission{
		ID:        uuid.New().String(),
		PatientID: patientID,
		DoctorID:  doctorID,
		GrantedAt: time.Now().UTC(),
	}
	if err := r.repo.PutPermission(ctx, perm); err != nil {
		// Lost a race against a concurrent grant for the same pair
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrDuplicateGrant
		}
		return nil, fmt.Errorf("error granting permission: %w", err)
	}
	return perm, nil
}

// Revoke deletes the pair's grant. Revoking an absent grant is not an error;
// the return value reports whether a row was removed.
func (r *Registry) Revoke(ctx context.Context, patientID, doctorID string) (bool, error) {
	existing, err := r.repo.GetPermission(ctx, patientID, doctorID)
	if err != nil {
		return false, fmt.Errorf("error checking permission: %w", err)
	}
	if existing == nil {
		return false, nil
	}
	if err := r.repo.DeletePermission(ctx, existing.ID); err != nil {
		return false, fmt.Errorf("error revoking permission: %w", err)
	}
	return true, nil
}

// HasAccess is the single authorization predicate for doctor access
func (r *Registry) HasAccess(ctx context.Context, patientID, doctorID string) (bool, error) {
	perm, err := r.repo.GetPermission(ctx, patientID, doctorID)
	if err != nil {
		return false, fmt.Errorf("error checking permission: %w", err)
	}
	return perm != nil, nil
}

// ListGranteesFor resolves the doctors holding a grant on patientID.
// Grants whose doctor no longer exists are dropped.
func (r *Registry) ListGranteesFor(ctx context.Context, patientID string) ([]models.User, error) {
	perms, err := r.repo.ListPermissionsForPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("error listing permissions: %w", err)
	}
	ids := make([]string, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.DoctorID)
	}
	return r.resolve(ctx, ids)
}

// ListSubjectsFor resolves the patients that granted doctorID access
func (r *Registry) ListSubjectsFor(ctx context.Context, doctorID string) ([]models.User, error) {
	perms, err := r.repo.ListPermissionsForDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("error listing permissions: %w", err)
	}
	ids := make([]string, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.PatientID)
	}
	return r.resolve(ctx, ids)
}

func (r *Registry) resolve(ctx context.Context, ids []string) ([]models.User, error) {
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		u, err := r.repo.GetUserByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("error getting user: %w", err)
		}
		if u != nil {
			users = append(users, *u)
		}
	}
	return users, nil
}
