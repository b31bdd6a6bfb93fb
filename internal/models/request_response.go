package models

// Request models
type SignUpRequest struct {
	Name          string `json:"name" binding:"required"`
	Email         string `json:"email" binding:"required,email"`
	Role          Role   `json:"role" binding:"required,oneof=patient doctor"`
	Password      string `json:"password"`
	WalletAddress string `json:"walletAddress"`
}

type LoginRequest struct {
	Email         string `json:"email" binding:"required,email"`
	Password      string `json:"password"`
	WalletAddress string `json:"walletAddress"`
}

type GrantRequest struct {
	GranteeID string `json:"granteeId" binding:"required"`
}

type NoteRequest struct {
	Text string `json:"text" binding:"required"`
}

type PrescriptionRequest struct {
	Medication   string `json:"medication" binding:"required"`
	Dosage       string `json:"dosage" binding:"required"`
	Frequency    string `json:"frequency" binding:"required"`
	Duration     string `json:"duration" binding:"required"`
	Instructions string `json:"instructions"`
}

// Response models
type AuthResponse struct {
	Status    string `json:"status"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
}

type UsersResponse struct {
	Status string `json:"status"`
	Users  []User `json:"users"`
}

type PermissionsResponse struct {
	Status   string `json:"status"`
	Doctors  []User `json:"doctors"`
	Patients []User `json:"patients"`
}

type AccessResponse struct {
	Status    string `json:"status"`
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
	HasAccess bool   `json:"hasAccess"`
}

type RecordResponse struct {
	Status string     `json:"status"`
	Record RecordItem `json:"record"`
}

type HistoryResponse struct {
	Status  string       `json:"status"`
	Records []RecordItem `json:"records"`
}

type PrescriptionResponse struct {
	Status       string       `json:"status"`
	Prescription Prescription `json:"prescription"`
}

type PrescriptionsResponse struct {
	Status        string         `json:"status"`
	Prescriptions []Prescription `json:"prescriptions"`
}

type LedgerResponse struct {
	Status       string             `json:"status"`
	PatientID    string             `json:"patientId"`
	Blocks       []Block            `json:"blocks"`
	Verification VerificationResult `json:"verification"`
}

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
