package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rongwang/medchain-server/internal/models"
)

// ErrDuplicateKey is wrapped by every uniqueness violation
var ErrDuplicateKey = errors.New("duplicate key")

// StorageError wraps a failure of the underlying store
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Repository is the keyed store behind every domain record family.
// Puts are upserts keyed by id. Lookups by id return nil, nil when the
// record does not exist. Lists by secondary index return every match in no
// guaranteed order.
type Repository interface {
	// User operations
	PutUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)

	// History operations
	PutRecord(ctx context.Context, record *models.RecordItem) error
	GetRecord(ctx context.Context, id string) (*models.RecordItem, error)
	ListRecordsByPatient(ctx context.Context, patientID string) ([]models.RecordItem, error)

	// File operations
	PutFile(ctx context.Context, file *models.FileBlob) error
	GetFile(ctx context.Context, id string) (*models.FileBlob, error)

	// Permission operations
	PutPermission(ctx context.Context, perm *models.Permission) error
	GetPermission(ctx context.Context, patientID, doctorID string) (*models.Permission, error)
	DeletePermission(ctx context.Context, id string) error
	ListPermissionsForPatient(ctx context.Context, patientID string) ([]models.Permission, error)
	ListPermissionsForDoctor(ctx context.Context, doctorID string) ([]models.Permission, error)

	// Block operations
	PutBlock(ctx context.Context, block *models.Block) error
	ListBlocksByPatient(ctx context.Context, patientID string) ([]models.Block, error)

	// Prescription operations
	PutPrescription(ctx context.Context, rx *models.Prescription) error
	GetPrescription(ctx context.Context, id string) (*models.Prescription, error)
	DeletePrescription(ctx context.Context, id string) error
	ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]models.Prescription, error)

	Close() error
}
