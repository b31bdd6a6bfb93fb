package models

import (
	"fmt"
	"strings"
)

// GenesisPrevHash is the prevHash of every chain's first block
const GenesisPrevHash = "GENESIS"

// PayloadType tags what a block documents
type PayloadType string

const (
	PayloadGenesis       PayloadType = "genesis"
	PayloadReport        PayloadType = "report"
	PayloadUpdate        PayloadType = "update"
	PayloadAccessGranted PayloadType = "access-granted"
	PayloadAccessRevoked PayloadType = "access-revoked"
	PayloadPrescription  PayloadType = "prescription"
)

// Block is one immutable, hash-linked entry in a patient's audit ledger.
// Timestamp is milliseconds since the Unix epoch; it is part of the hash preimage.
type Block struct {
	ID          string      `db:"id" json:"id"`
	PatientID   string      `db:"patient_id" json:"patientId"`
	Index       int64       `db:"idx" json:"index"`
	PrevHash    string      `db:"prev_hash" json:"prevHash"`
	Hash        string      `db:"hash" json:"hash"`
	Timestamp   int64       `db:"timestamp" json:"timestamp"`
	PayloadType PayloadType `db:"payload_type" json:"payloadType"`
	PayloadRef  string      `db:"payload_ref" json:"payloadRef,omitempty"`
	AuthorID    string      `db:"author_id" json:"authorId"`
	AuthorName  string      `db:"author_name" json:"authorName"`
}

// Payload is the sum of everything a block can document. Each variant
// carries only the reference relevant to it.
type Payload interface {
	Type() PayloadType
	Ref() string
}

type GenesisPayload struct{}

func (GenesisPayload) Type() PayloadType { return PayloadGenesis }
func (GenesisPayload) Ref() string       { return "" }

type ReportPayload struct{ RecordID string }

func (p ReportPayload) Type() PayloadType { return PayloadReport }
func (p ReportPayload) Ref() string       { return p.RecordID }

type UpdatePayload struct{ RecordID string }

func (p UpdatePayload) Type() PayloadType { return PayloadUpdate }
func (p UpdatePayload) Ref() string       { return p.RecordID }

type AccessGrantedPayload struct{ PermissionID string }

func (p AccessGrantedPayload) Type() PayloadType { return PayloadAccessGranted }
func (p AccessGrantedPayload) Ref() string       { return p.PermissionID }

// AccessRevokedPayload references the pair, since the permission row is gone
type AccessRevokedPayload struct {
	PatientID string
	DoctorID  string
}

func (p AccessRevokedPayload) Type() PayloadType { return PayloadAccessRevoked }
func (p AccessRevokedPayload) Ref() string       { return p.PatientID + ":" + p.DoctorID }

type PrescriptionPayload struct{ PrescriptionID string }

func (p PrescriptionPayload) Type() PayloadType { return PayloadPrescription }
func (p PrescriptionPayload) Ref() string       { return p.PrescriptionID }

// Payload decodes the block's tag and reference back into its variant
func (b *Block) Payload() (Payload, error) {
	switch b.PayloadType {
	case PayloadGenesis:
		return GenesisPayload{}, nil
	case PayloadReport:
		return ReportPayload{RecordID: b.PayloadRef}, nil
	case PayloadUpdate:
		return UpdatePayload{RecordID: b.PayloadRef}, nil
	case PayloadAccessGranted:
		return AccessGrantedPayload{PermissionID: b.PayloadRef}, nil
	case PayloadAccessRevoked:
		patient, doctor, ok := strings.Cut(b.PayloadRef, ":")
		if !ok {
			return nil, fmt.Errorf("malformed access-revoked reference %q", b.PayloadRef)
		}
		return AccessRevokedPayload{PatientID: patient, DoctorID: doctor}, nil
	case PayloadPrescription:
		return PrescriptionPayload{PrescriptionID: b.PayloadRef}, nil
	default:
		return nil, fmt.Errorf("unknown payload type %q", b.PayloadType)
	}
}

// ChainFailure is one problem found while verifying a chain
type ChainFailure struct {
	Index  int64  `json:"index"`
	Reason string `json:"reason"`
}

// VerificationResult is the outcome of verifying a chain. Failures are data,
// not errors.
type VerificationResult struct {
	OK       bool           `json:"ok"`
	Failures []ChainFailure `json:"failures"`
}
