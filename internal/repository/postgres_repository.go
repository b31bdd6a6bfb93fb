package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rongwang/medchain-server/internal/models"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

// Close closes the connection pool
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// pgErr maps driver errors onto the repository error taxonomy
func pgErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return storageErr(op, ErrDuplicateKey)
	}
	return storageErr(op, err)
}

// get runs a single-row query, returning found=false on no rows
func (r *PostgresRepository) get(ctx context.Context, op string, dest interface{}, query string, args ...interface{}) (bool, error) {
	err := r.db.GetContext(ctx, dest, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, pgErr(op, err)
	}
	return true, nil
}

// User repository methods
func (r *PostgresRepository) PutUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, role, auth_method, salt_hex, password_hash_hex,
			wallet_address, profile, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			auth_method = EXCLUDED.auth_method,
			salt_hex = EXCLUDED.salt_hex,
			password_hash_hex = EXCLUDED.password_hash_hex,
			wallet_address = EXCLUDED.wallet_address,
			profile = EXCLUDED.profile,
			updated_at = EXCLUDED.updated_at
	`

	// Generate a new UUID if not provided
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.Role, user.AuthMethod, user.SaltHex,
		user.PasswordHashHex, user.WalletAddress, user.Profile, user.CreatedAt, user.UpdatedAt)

	return pgErr("put user", err)
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	found, err := r.get(ctx, "get user", &user, `SELECT * FROM users WHERE email = $1`, email)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	found, err := r.get(ctx, "get user", &user, `SELECT * FROM users WHERE id = $1`, id)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

func (r *PostgresRepository) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT * FROM users WHERE role = $1`, role)
	if err != nil {
		return nil, pgErr("list users", err)
	}
	return users, nil
}

// History repository methods
func (r *PostgresRepository) PutRecord(ctx context.Context, record *models.RecordItem) error {
	query := `
		INSERT INTO records (id, patient_id, author_id, author_name, type, title, file_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			author_id = EXCLUDED.author_id,
			author_name = EXCLUDED.author_name,
			type = EXCLUDED.type,
			title = EXCLUDED.title,
			file_id = EXCLUDED.file_id,
			created_at = EXCLUDED.created_at
	`

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.PatientID, record.AuthorID, record.AuthorName,
		record.Type, record.Title, record.FileID, record.CreatedAt)

	return pgErr("put record", err)
}

func (r *PostgresRepository) GetRecord(ctx context.Context, id string) (*models.RecordItem, error) {
	var record models.RecordItem
	found, err := r.get(ctx, "get record", &record, `SELECT * FROM records WHERE id = $1`, id)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (r *PostgresRepository) ListRecordsByPatient(ctx context.Context, patientID string) ([]models.RecordItem, error) {
	var records []models.RecordItem
	err := r.db.SelectContext(ctx, &records, `SELECT * FROM records WHERE patient_id = $1`, patientID)
	if err != nil {
		return nil, pgErr("list records", err)
	}
	return records, nil
}

// File repository methods
func (r *PostgresRepository) PutFile(ctx context.Context, file *models.FileBlob) error {
	query := `
		INSERT INTO files (id, content_type, data, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			data = EXCLUDED.data
	`

	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query, file.ID, file.ContentType, file.Data, file.CreatedAt)
	return pgErr("put file", err)
}

func (r *PostgresRepository) GetFile(ctx context.Context, id string) (*models.FileBlob, error) {
	var file models.FileBlob
	found, err := r.get(ctx, "get file", &file, `SELECT * FROM files WHERE id = $1`, id)
	if err != nil || !found {
		return nil, err
	}
	return &file, nil
}

// Permission repository methods
func (r *PostgresRepository) PutPermission(ctx context.Context, perm *models.Permission) error {
	query := `
		INSERT INTO permissions (id, patient_id, doctor_id, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			doctor_id = EXCLUDED.doctor_id,
			granted_at = EXCLUDED.granted_at
	`

	if perm.ID == "" {
		perm.ID = uuid.New().String()
	}
	if perm.GrantedAt.IsZero() {
		perm.GrantedAt = time.Now().UTC()
	}

	// The (patient_id, doctor_id) unique constraint rejects a second grant
	_, err := r.db.ExecContext(ctx, query, perm.ID, perm.PatientID, perm.DoctorID, perm.GrantedAt)
	return pgErr("put permission", err)
}

func (r *PostgresRepository) GetPermission(ctx context.Context, patientID, doctorID string) (*models.Permission, error) {
	var perm models.Permission
	found, err := r.get(ctx, "get permission", &perm,
		`SELECT * FROM permissions WHERE patient_id = $1 AND doctor_id = $2`, patientID, doctorID)
	if err != nil || !found {
		return nil, err
	}
	return &perm, nil
}

func (r *PostgresRepository) DeletePermission(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	return pgErr("delete permission", err)
}

func (r *PostgresRepository) ListPermissionsForPatient(ctx context.Context, patientID string) ([]models.Permission, error) {
	var perms []models.Permission
	err := r.db.SelectContext(ctx, &perms, `SELECT * FROM permissions WHERE patient_id = $1`, patientID)
	if err != nil {
		return nil, pgErr("list permissions", err)
	}
	return perms, nil
}

func (r *PostgresRepository) ListPermissionsForDoctor(ctx context.Context, doctorID string) ([]models.Permission, error) {
	var perms []models.Permission
	err := r.db.SelectContext(ctx, &perms, `SELECT * FROM permissions WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return nil, pgErr("list permissions", err)
	}
	return perms, nil
}

// Block repository methods
func (r *PostgresRepository) PutBlock(ctx context.Context, block *models.Block) error {
	// Blocks are immutable: re-putting the same id is a no-op, and the
	// (patient_id, idx) unique constraint is the compare-and-swap slot.
	query := `
		INSERT INTO blocks (id, patient_id, idx, prev_hash, hash, timestamp, payload_type,
			payload_ref, author_id, author_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	if block.ID == "" {
		block.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx, query,
		block.ID, block.PatientID, block.Index, block.PrevHash, block.Hash, block.Timestamp,
		block.PayloadType, block.PayloadRef, block.AuthorID, block.AuthorName)

	return pgErr("put block", err)
}

func (r *PostgresRepository) ListBlocksByPatient(ctx context.Context, patientID string) ([]models.Block, error) {
	var blocks []models.Block
	err := r.db.SelectContext(ctx, &blocks, `SELECT * FROM blocks WHERE patient_id = $1`, patientID)
	if err != nil {
		return nil, pgErr("list blocks", err)
	}
	return blocks, nil
}

// Prescription repository methods
func (r *PostgresRepository) PutPrescription(ctx context.Context, rx *models.Prescription) error {
	query := `
		INSERT INTO prescriptions (id, patient_id, doctor_id, doctor_name, medication, dosage,
			frequency, duration, instructions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			doctor_id = EXCLUDED.doctor_id,
			doctor_name = EXCLUDED.doctor_name,
			medication = EXCLUDED.medication,
			dosage = EXCLUDED.dosage,
			frequency = EXCLUDED.frequency,
			duration = EXCLUDED.duration,
			instructions = EXCLUDED.instructions,
			created_at = EXCLUDED.created_at
	`

	if rx.ID == "" {
		rx.ID = uuid.New().String()
	}
	if rx.CreatedAt.IsZero() {
		rx.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		rx.ID, rx.PatientID, rx.DoctorID, rx.DoctorName, rx.Medication, rx.Dosage,
		rx.Frequency, rx.Duration, rx.Instructions, rx.CreatedAt)

	return pgErr("put prescription", err)
}

func (r *PostgresRepository) GetPrescription(ctx context.Context, id string) (*models.Prescription, error) {
	var rx models.Prescription
	found, err := r.get(ctx, "get prescription", &rx, `SELECT * FROM prescriptions WHERE id = $1`, id)
	if err != nil || !found {
		return nil, err
	}
	return &rx, nil
}

func (r *PostgresRepository) DeletePrescription(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM prescriptions WHERE id = $1`, id)
	return pgErr("delete prescription", err)
}

func (r *PostgresRepository) ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]models.Prescription, error) {
	var rxs []models.Prescription
	err := r.db.SelectContext(ctx, &rxs, `SELECT * FROM prescriptions WHERE patient_id = $1`, patientID)
	if err != nil {
		return nil, pgErr("list prescriptions", err)
	}
	return rxs, nil
}
