package service

import (
	"context"
	"fmt"

	"github.com/rongwang/medchain-server/internal/models"
)

// Grant lets doctorID access the caller's records and records it on the ledger.
// A second grant for the same pair fails with ErrDuplicateGrant and appends nothing.
func (s *DefaultService) Grant(ctx context.Context, caller models.Caller, patientID, doctorID string) (*models.Permission, error) {
	if !isOwner(caller, patientID) {
		return nil, s.deny(caller, "grant", ErrNotAuthorized)
	}

	doctor, err := s.repo.GetUserByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if doctor == nil || doctor.Role != models.RoleDoctor {
		return nil, fmt.Errorf("doctor %s: %w", doctorID, ErrNotFound)
	}

	perm, err := s.registry.Grant(ctx, patientID, doctorID)
	if err != nil {
		return nil, err
	}

	if err := s.appendBlock(ctx, patientID, models.AccessGrantedPayload{PermissionID: perm.ID}, caller.ID); err != nil {
		return nil, err
	}
	return perm, nil
}

// Revoke removes doctorID's access. Revoking a pair without a grant is a
// no-op and appends nothing.
func (s *DefaultService) Revoke(ctx context.Context, caller models.Caller, patientID, doctorID string) error {
	if !isOwner(caller, patientID) {
		return s.deny(caller, "revoke", ErrNotAuthorized)
	}

	removed, err := s.registry.Revoke(ctx, patientID, doctorID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	return s.appendBlock(ctx, patientID, models.AccessRevokedPayload{PatientID: patientID, DoctorID: doctorID}, caller.ID)
}

// HasAccess answers the access question for either party of the pair
func (s *DefaultService) HasAccess(ctx context.Context, caller models.Caller, patientID, doctorID string) (bool, error) {
	if caller.ID != patientID && caller.ID != doctorID {
		return false, s.deny(caller, "access check", ErrNotAuthorized)
	}
	return s.registry.HasAccess(ctx, patientID, doctorID)
}

// ListMyPermissions returns the doctors a patient granted, or the patients
// that granted a doctor
func (s *DefaultService) ListMyPermissions(ctx context.Context, caller models.Caller) (*models.PermissionsResponse, error) {
	resp := &models.PermissionsResponse{
		Status:   "success",
		Doctors:  []models.User{},
		Patients: []models.User{},
	}

	var err error
	switch caller.Role {
	case models.RolePatient:
		resp.Doctors, err = s.registry.ListGranteesFor(ctx, caller.ID)
	case models.RoleDoctor:
		resp.Patients, err = s.registry.ListSubjectsFor(ctx, caller.ID)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
