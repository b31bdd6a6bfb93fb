package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Role is the part an identity plays in the system
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// AuthMethod records which credential an identity was registered with
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodWallet   AuthMethod = "metamask"
)

// User represents an identity in the system
type User struct {
	ID              string     `db:"id" json:"id"`
	Email           string     `db:"email" json:"email"`
	Name            string     `db:"name" json:"name"`
	Role            Role       `db:"role" json:"role"`
	AuthMethod      AuthMethod `db:"auth_method" json:"authMethod"`
	SaltHex         string     `db:"salt_hex" json:"-"`
	PasswordHashHex string     `db:"password_hash_hex" json:"-"`
	WalletAddress   string     `db:"wallet_address" json:"walletAddress,omitempty"`
	Profile         Profile    `db:"profile" json:"profile"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

// Profile holds free-form measurements. None of it is security relevant.
type Profile struct {
	Age             string `json:"age,omitempty"`
	Gender          string `json:"gender,omitempty"`
	Height          string `json:"height,omitempty"`
	Weight          string `json:"weight,omitempty"`
	BloodPressure   string `json:"bloodPressure,omitempty"`
	HeartRate       string `json:"heartRate,omitempty"`
	Temperature     string `json:"temperature,omitempty"`
	RespiratoryRate string `json:"respiratoryRate,omitempty"`
	BMI             string `json:"bmi,omitempty"`
	BodyFat         string `json:"bodyFat,omitempty"`
	MuscleMass      string `json:"muscleMass,omitempty"`
	BoneDensity     string `json:"boneDensity,omitempty"`
}

// Value stores the profile as a JSON document
func (p Profile) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads the profile back from a JSON column
func (p *Profile) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = Profile{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("unsupported profile column type")
	}
}

// RecordType distinguishes history entries
type RecordType string

const (
	RecordReport       RecordType = "report"
	RecordUpdate       RecordType = "update"
	RecordPrescription RecordType = "prescription"
)

// RecordItem is one immutable entry in a patient's history
type RecordItem struct {
	ID         string     `db:"id" json:"id"`
	PatientID  string     `db:"patient_id" json:"patientId"`
	AuthorID   string     `db:"author_id" json:"authorId"`
	AuthorName string     `db:"author_name" json:"authorName"`
	Type       RecordType `db:"type" json:"type"`
	Title      string     `db:"title" json:"title,omitempty"`
	FileID     string     `db:"file_id" json:"fileId,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// Permission is a live grant of a doctor's access to a patient
type Permission struct {
	ID        string    `db:"id" json:"id"`
	PatientID string    `db:"patient_id" json:"patientId"`
	DoctorID  string    `db:"doctor_id" json:"doctorId"`
	GrantedAt time.Time `db:"granted_at" json:"grantedAt"`
}

// Prescription is written by a doctor for a patient and may later be removed
type Prescription struct {
	ID           string    `db:"id" json:"id"`
	PatientID    string    `db:"patient_id" json:"patientId"`
	DoctorID     string    `db:"doctor_id" json:"doctorId"`
	DoctorName   string    `db:"doctor_name" json:"doctorName"`
	Medication   string    `db:"medication" json:"medication"`
	Dosage       string    `db:"dosage" json:"dosage"`
	Frequency    string    `db:"frequency" json:"frequency"`
	Duration     string    `db:"duration" json:"duration"`
	Instructions string    `db:"instructions" json:"instructions,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// FileBlob is an opaque uploaded attachment
type FileBlob struct {
	ID          string    `db:"id" json:"id"`
	ContentType string    `db:"content_type" json:"contentType"`
	Data        []byte    `db:"data" json:"data"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Caller is the authenticated identity on whose behalf an operation runs
type Caller struct {
	ID   string
	Name string
	Role Role
}

// CallerFromUser builds a Caller from a stored identity
func CallerFromUser(u *User) Caller {
	return Caller{ID: u.ID, Name: u.Name, Role: u.Role}
}
