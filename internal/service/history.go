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

// maxNoteTitle caps how much of a note is kept as the entry title
const maxNoteTitle = 120

// AddReport stores a report (and its optional attachment) authored by the
// patient, then appends a report block
func (s *DefaultService) AddReport(ctx context.Context, caller models.Caller, patientID, title string, file *FileUpload) (*models.RecordItem, error) {
	if !isOwner(caller, patientID) {
		return nil, s.deny(caller, "add report", ErrNotAuthorized)
	}

	now := time.Now().UTC()
	record := &models.RecordItem{
		ID:         uuid.New().String(),
		PatientID:  patientID,
		AuthorID:   caller.ID,
		AuthorName: caller.Name,
		Type:       models.RecordReport,
		Title:      strings.TrimSpace(title),
		CreatedAt:  now,
	}

	if file != nil && len(file.Data) > 0 {
		blob := &models.FileBlob{
			ID:          uuid.New().String(),
			ContentType: file.ContentType,
			Data:        file.Data,
			CreatedAt:   now,
		}
		if err := s.repo.PutFile(ctx, blob); err != nil {
			return nil, fmt.Errorf("error storing file: %w", err)
		}
		record.FileID = blob.ID
	}

	if err := s.repo.PutRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("error storing record: %w", err)
	}

	if err := s.appendBlock(ctx, patientID, models.ReportPayload{RecordID: record.ID}, caller.ID); err != nil {
		return nil, err
	}
	return record, nil
}

// AddNote stores a doctor's update on a patient they have access to
func (s *DefaultService) AddNote(ctx context.Context, caller models.Caller, patientID, text string) (*models.RecordItem, error) {
	if err := s.requireDoctorAccess(ctx, caller, patientID, "add note"); err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrInvalidInput
	}
	if runes := []rune(text); len(runes) > maxNoteTitle {
		text = string(runes[:maxNoteTitle])
	}

	record := &models.RecordItem{
		ID:         uuid.New().String(),
		PatientID:  patientID,
		AuthorID:   caller.ID,
		AuthorName: caller.Name,
		Type:       models.RecordUpdate,
		Title:      text,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.PutRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("error storing record: %w", err)
	}

	if err := s.appendBlock(ctx, patientID, models.UpdatePayload{RecordID: record.ID}, caller.ID); err != nil {
		return nil, err
	}
	return record, nil
}

// GetHistory returns the entries the caller may see, oldest first. The
// patient sees everything, including notes from doctors whose access has
// since been revoked. A doctor with live access sees only entries the
// patient authored. Anyone else sees nothing.
func (s *DefaultService) GetHistory(ctx context.Context, caller models.Caller, patientID string) ([]models.RecordItem, error) {
	filter := func(models.RecordItem) bool { return true }

	switch {
	case isOwner(caller, patientID):
	case caller.Role == models.RoleDoctor:
		ok, err := s.registry.HasAccess(ctx, patientID, caller.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []models.RecordItem{}, nil
		}
		filter = func(r models.RecordItem) bool { return r.AuthorID == patientID }
	default:
		return []models.RecordItem{}, nil
	}

	all, err := s.repo.ListRecordsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %w", err)
	}

	records := make([]models.RecordItem, 0, len(all))
	for _, r := range all {
		if filter(r) {
			records = append(records, r)
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

// DownloadFile returns a record's attachment if the caller may see the record
func (s *DefaultService) DownloadFile(ctx context.Context, caller models.Caller, recordID string) (*models.RecordItem, *models.FileBlob, error) {
	record, err := s.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting record: %w", err)
	}
	if record == nil {
		return nil, nil, ErrNotFound
	}

	switch {
	case isOwner(caller, record.PatientID):
	case caller.Role == models.RoleDoctor:
		if err := s.requireDoctorAccess(ctx, caller, record.PatientID, "download file"); err != nil {
			return nil, nil, err
		}
		if record.AuthorID != record.PatientID {
			return nil, nil, s.deny(caller, "download file", ErrNotAuthorized)
		}
	default:
		return nil, nil, s.deny(caller, "download file", ErrNotAuthorized)
	}

	if record.FileID == "" {
		return nil, nil, ErrNotFound
	}
	blob, err := s.repo.GetFile(ctx, record.FileID)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting file: %w", err)
	}
	if blob == nil {
		return nil, nil, ErrNotFound
	}
	return record, blob, nil
}
