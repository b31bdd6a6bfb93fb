package service

import (
	"context"

	"github.com/rongwang/medchain-server/internal/ledger"
	"github.com/rongwang/medchain-server/internal/models"
)

// GetLedger returns a patient's chain together with its verification
// result. A broken chain is reported in the result, not as an error.
func (s *DefaultService) GetLedger(ctx context.Context, caller models.Caller, patientID string) (*models.LedgerResponse, error) {
	if !isOwner(caller, patientID) {
		if err := s.requireDoctorAccess(ctx, caller, patientID, "get ledger"); err != nil {
			return nil, err
		}
	}

	blocks, err := s.ledger.GetLedger(ctx, patientID)
	if err != nil {
		return nil, err
	}

	result := ledger.Verify(blocks)
	if !result.OK {
		s.log.Warn("ledger for patient %s failed verification: %d failures", patientID, len(result.Failures))
	}

	return &models.LedgerResponse{
		Status:       "success",
		PatientID:    patientID,
		Blocks:       blocks,
		Verification: result,
	}, nil
}
