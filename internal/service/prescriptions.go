package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/medchain-server/internal/models"
)

func (s *DefaultService) AddPrescription(
	ctx context.Context,
	caller models.Caller,
	patientID string,
	req models.PrescriptionRequest,
) (*models.Prescription, error) {
	if err := s.requireDoctorAccess(ctx, caller, patientID, "add prescription"); err != nil {
		return nil, err
	}

	rx := &models.Prescription{
		ID:           uuid.New().String(),
		PatientID:    patientID,
		DoctorID:     caller.ID,
		DoctorName:   caller.Name,
		Medication:   strings.TrimSpace(req.Medication),
		Dosage:       strings.TrimSpace(req.Dosage),
		Frequency:    strings.TrimSpace(req.Frequency),
		Duration:     strings.TrimSpace(req.Duration),
		Instructions: strings.TrimSpace(req.Instructions),
		CreatedAt:    time.Now().UTC(),
	}
	if rx.Medication == "" || rx.Dosage == "" || rx.Frequency == "" || rx.Duration == "" {
		return nil, ErrInvalidInput
	}

	if err := s.repo.PutPrescription(ctx, rx); err != nil {
		return nil, fmt.Errorf("error storing prescription: %w", err)
	}

	if err := s.appendBlock(ctx, patientID, models.PrescriptionPayload{PrescriptionID: rx.ID}, caller.ID); err != nil {
		return nil, err
	}
	return rx, nil
}

// RemovePrescription deletes a prescription. Only its prescriber, while
// still holding access, may remove it. The ledger block that recorded it stays.
func (s *DefaultService) RemovePrescription(ctx context.Context, caller models.Caller, prescriptionID, patientID string) error {
	if err := s.requireDoctorAccess(ctx, caller, patientID, "remove prescription"); err != nil {
		return err
	}

	rx, err := s.repo.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return fmt.Errorf("error getting prescription: %w", err)
	}
	if rx == nil || rx.PatientID != patientID {
		return ErrNotFound
	}
	if rx.DoctorID != caller.ID {
		return s.deny(caller, "remove prescription", ErrNotAuthorized)
	}

	if err := s.repo.DeletePrescription(ctx, prescriptionID); err != nil {
		return fmt.Errorf("error deleting prescription: %w", err)
	}
	return nil
}

// ListPrescriptions returns a patient's prescriptions, oldest first, to the
// patient or to a doctor with live access
func (s *DefaultService) ListPrescriptions(ctx context.Context, caller models.Caller, patientID string) ([]models.Prescription, error) {
	switch {
	case isOwner(caller, patientID):
	case caller.Role == models.RoleDoctor:
		ok, err := s.registry.HasAccess(ctx, patientID, caller.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []models.Prescription{}, nil
		}
	default:
		return []models.Prescription{}, nil
	}

	rxs, err := s.repo.ListPrescriptionsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("error listing prescriptions: %w", err)
	}
	if rxs == nil {
		rxs = []models.Prescription{}
	}
	sort.SliceStable(rxs, func(i, j int) bool { return rxs[i].CreatedAt.Before(rxs[j].CreatedAt) })
	return rxs, nil
}
