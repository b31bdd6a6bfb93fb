package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout. Primary records live under "<family>:<id>"; secondary
// indices live under "idx:..." and map to the owning record id.
//
//	user:<id>                                   User
//	idx:user-email:<email>                      unique
//	idx:user-role:<role>:<id>
//	record:<id>                                 RecordItem
//	idx:record-patient:<patient>:<createdAt>:<id>
//	perm:<id>                                   Permission
//	idx:perm-pair:<patient>:<doctor>            unique
//	idx:perm-patient:<patient>:<id>
//	idx:perm-doctor:<doctor>:<id>
//	block:<id>                                  Block
//	idx:block:<patient>:<index>                 unique
//	file:<id>                                   FileBlob
//	rx:<id>                                     Prescription
//	idx:rx-patient:<patient>:<createdAt>:<id>
const (
	prefixUser   = "user:"
	prefixRecord = "record:"
	prefixPerm   = "perm:"
	prefixBlock  = "block:"
	prefixFile   = "file:"
	prefixRx     = "rx:"
)

func userKey(id string) []byte   { return []byte(prefixUser + id) }
func recordKey(id string) []byte { return []byte(prefixRecord + id) }
func permKey(id string) []byte   { return []byte(prefixPerm + id) }
func blockKey(id string) []byte  { return []byte(prefixBlock + id) }
func fileKey(id string) []byte   { return []byte(prefixFile + id) }
func rxKey(id string) []byte     { return []byte(prefixRx + id) }

func emailIdx(email string) []byte { return []byte("idx:user-email:" + email) }
func rolePrefix(role models.Role) string {
	return "idx:user-role:" + string(role) + ":"
}
func recordPatientPrefix(patientID string) string { return "idx:record-patient:" + patientID + ":" }
func pairIdx(patientID, doctorID string) []byte {
	return []byte("idx:perm-pair:" + patientID + ":" + doctorID)
}
func permPatientPrefix(patientID string) string { return "idx:perm-patient:" + patientID + ":" }
func permDoctorPrefix(doctorID string) string   { return "idx:perm-doctor:" + doctorID + ":" }
func blockPatientPrefix(patientID string) string { return "idx:block:" + patientID + ":" }
func blockIdx(patientID string, index int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", blockPatientPrefix(patientID), index))
}
func rxPatientPrefix(patientID string) string { return "idx:rx-patient:" + patientID + ":" }

// timeKey sorts lexically in time order
func timeKey(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

// storedUser keeps the credential fields the API encoding hides
type storedUser struct {
	models.User
	SaltHex         string `json:"saltHex,omitempty"`
	PasswordHashHex string `json:"passwordHashHex,omitempty"`
}

// LevelDBRepository implements Repository on an embedded LevelDB database.
// Writes are serialized so index checks and the batch that follows them
// are atomic with respect to each other.
type LevelDBRepository struct {
	db *leveldb.DB
	mu sync.Mutex
}

// NewLevelDBRepository wraps an open LevelDB handle
func NewLevelDBRepository(db *leveldb.DB) *LevelDBRepository {
	return &LevelDBRepository{db: db}
}

// OpenLevelDB opens (or creates) a LevelDB store at path
func OpenLevelDB(path string) (*LevelDBRepository, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, storageErr("open", err)
	}
	return NewLevelDBRepository(db), nil
}

// OpenMemLevelDB opens a LevelDB store held entirely in memory
func OpenMemLevelDB() (*LevelDBRepository, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, storageErr("open", err)
	}
	return NewLevelDBRepository(db), nil
}

// Close closes the database
func (r *LevelDBRepository) Close() error {
	return r.db.Close()
}

func (r *LevelDBRepository) getJSON(op string, key []byte, v interface{}) (bool, error) {
	data, err := r.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storageErr(op, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, storageErr(op, err)
	}
	return true, nil
}

// owner returns the record id an index key points at, or "" if unset
func (r *LevelDBRepository) owner(op string, key []byte) (string, error) {
	data, err := r.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", storageErr(op, err)
	}
	return string(data), nil
}

// claim fails with ErrDuplicateKey if a unique index key belongs to another id
func (r *LevelDBRepository) claim(op string, key []byte, id string) error {
	current, err := r.owner(op, key)
	if err != nil {
		return err
	}
	if current != "" && current != id {
		return storageErr(op, ErrDuplicateKey)
	}
	return nil
}

func (r *LevelDBRepository) idsWithPrefix(op, prefix string) ([]string, error) {
	iter := r.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var ids []string
	for iter.Next() {
		ids = append(ids, string(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		return nil, storageErr(op, err)
	}
	return ids, nil
}

func (r *LevelDBRepository) write(op string, batch *leveldb.Batch) error {
	return storageErr(op, r.db.Write(batch, nil))
}

func putJSON(batch *leveldb.Batch, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	batch.Put(key, data)
	return nil
}

// User repository methods
func userIndexKeys(u *models.User) [][]byte {
	return [][]byte{emailIdx(u.Email), []byte(rolePrefix(u.Role) + u.ID)}
}

func (r *LevelDBRepository) PutUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if err := r.claim("put user", emailIdx(user.Email), user.ID); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	var existing storedUser
	found, err := r.getJSON("put user", userKey(user.ID), &existing)
	if err != nil {
		return err
	}
	if found {
		for _, k := range userIndexKeys(&existing.User) {
			batch.Delete(k)
		}
	}

	stored := storedUser{User: *user, SaltHex: user.SaltHex, PasswordHashHex: user.PasswordHashHex}
	if err := putJSON(batch, userKey(user.ID), stored); err != nil {
		return storageErr("put user", err)
	}
	for _, k := range userIndexKeys(user) {
		batch.Put(k, []byte(user.ID))
	}
	return r.write("put user", batch)
}

func (r *LevelDBRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var stored storedUser
	found, err := r.getJSON("get user", userKey(id), &stored)
	if err != nil || !found {
		return nil, err
	}
	user := stored.User
	user.SaltHex = stored.SaltHex
	user.PasswordHashHex = stored.PasswordHashHex
	return &user, nil
}

func (r *LevelDBRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	id, err := r.owner("get user", emailIdx(email))
	if err != nil || id == "" {
		return nil, err
	}
	return r.GetUserByID(ctx, id)
}

func (r *LevelDBRepository) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	ids, err := r.idsWithPrefix("list users", rolePrefix(role))
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		u, err := r.GetUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if u != nil {
			users = append(users, *u)
		}
	}
	return users, nil
}

// History repository methods
func recordIndexKey(rec *models.RecordItem) []byte {
	return []byte(recordPatientPrefix(rec.PatientID) + timeKey(rec.CreatedAt) + ":" + rec.ID)
}

func (r *LevelDBRepository) PutRecord(ctx context.Context, record *models.RecordItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	batch := new(leveldb.Batch)
	var existing models.RecordItem
	found, err := r.getJSON("put record", recordKey(record.ID), &existing)
	if err != nil {
		return err
	}
	if found {
		batch.Delete(recordIndexKey(&existing))
	}
	if err := putJSON(batch, recordKey(record.ID), record); err != nil {
		return storageErr("put record", err)
	}
	batch.Put(recordIndexKey(record), []byte(record.ID))
	return r.write("put record", batch)
}

func (r *LevelDBRepository) GetRecord(ctx context.Context, id string) (*models.RecordItem, error) {
	var record models.RecordItem
	found, err := r.getJSON("get record", recordKey(id), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (r *LevelDBRepository) ListRecordsByPatient(ctx context.Context, patientID string) ([]models.RecordItem, error) {
	ids, err := r.idsWithPrefix("list records", recordPatientPrefix(patientID))
	if err != nil {
		return nil, err
	}
	records := make([]models.RecordItem, 0, len(ids))
	for _, id := range ids {
		rec, err := r.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// File repository methods
func (r *LevelDBRepository) PutFile(ctx context.Context, file *models.FileBlob) error {
	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	batch := new(leveldb.Batch)
	if err := putJSON(batch, fileKey(file.ID), file); err != nil {
		return storageErr("put file", err)
	}
	return r.write("put file", batch)
}

func (r *LevelDBRepository) GetFile(ctx context.Context, id string) (*models.FileBlob, error) {
	var file models.FileBlob
	found, err := r.getJSON("get file", fileKey(id), &file)
	if err != nil || !found {
		return nil, err
	}
	return &file, nil
}

// Permission repository methods
func permIndexKeys(p *models.Permission) [][]byte {
	return [][]byte{
		pairIdx(p.PatientID, p.DoctorID),
		[]byte(permPatientPrefix(p.PatientID) + p.ID),
		[]byte(permDoctorPrefix(p.DoctorID) + p.ID),
	}
}

func (r *LevelDBRepository) PutPermission(ctx context.Context, perm *models.Permission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if perm.ID == "" {
		perm.ID = uuid.New().String()
	}
	if perm.GrantedAt.IsZero() {
		perm.GrantedAt = time.Now().UTC()
	}

	if err := r.claim("put permission", pairIdx(perm.PatientID, perm.DoctorID), perm.ID); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	var existing models.Permission
	found, err := r.getJSON("put permission", permKey(perm.ID), &existing)
	if err != nil {
		return err
	}
	if found {
		for _, k := range permIndexKeys(&existing) {
			batch.Delete(k)
		}
	}
	if err := putJSON(batch, permKey(perm.ID), perm); err != nil {
		return storageErr("put permission", err)
	}
	for _, k := range permIndexKeys(perm) {
		batch.Put(k, []byte(perm.ID))
	}
	return r.write("put permission", batch)
}

func (r *LevelDBRepository) getPermissionByID(id string) (*models.Permission, error) {
	var perm models.Permission
	found, err := r.getJSON("get permission", permKey(id), &perm)
	if err != nil || !found {
		return nil, err
	}
	return &perm, nil
}

func (r *LevelDBRepository) GetPermission(ctx context.Context, patientID, doctorID string) (*models.Permission, error) {
	id, err := r.owner("get permission", pairIdx(patientID, doctorID))
	if err != nil || id == "" {
		return nil, err
	}
	return r.getPermissionByID(id)
}

func (r *LevelDBRepository) DeletePermission(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	perm, err := r.getPermissionByID(id)
	if err != nil || perm == nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(permKey(id))
	for _, k := range permIndexKeys(perm) {
		batch.Delete(k)
	}
	return r.write("delete permission", batch)
}

func (r *LevelDBRepository) listPermissions(prefix string) ([]models.Permission, error) {
	ids, err := r.idsWithPrefix("list permissions", prefix)
	if err != nil {
		return nil, err
	}
	perms := make([]models.Permission, 0, len(ids))
	for _, id := range ids {
		p, err := r.getPermissionByID(id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			perms = append(perms, *p)
		}
	}
	return perms, nil
}

func (r *LevelDBRepository) ListPermissionsForPatient(ctx context.Context, patientID string) ([]models.Permission, error) {
	return r.listPermissions(permPatientPrefix(patientID))
}

func (r *LevelDBRepository) ListPermissionsForDoctor(ctx context.Context, doctorID string) ([]models.Permission, error) {
	return r.listPermissions(permDoctorPrefix(doctorID))
}

// Block repository methods
func (r *LevelDBRepository) PutBlock(ctx context.Context, block *models.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if block.ID == "" {
		block.ID = uuid.New().String()
	}

	// Blocks are immutable; a repeated put of the same id is a no-op
	if _, err := r.db.Get(blockKey(block.ID), nil); err == nil {
		return nil
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return storageErr("put block", err)
	}

	if err := r.claim("put block", blockIdx(block.PatientID, block.Index), block.ID); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	if err := putJSON(batch, blockKey(block.ID), block); err != nil {
		return storageErr("put block", err)
	}
	batch.Put(blockIdx(block.PatientID, block.Index), []byte(block.ID))
	return r.write("put block", batch)
}

func (r *LevelDBRepository) ListBlocksByPatient(ctx context.Context, patientID string) ([]models.Block, error) {
	ids, err := r.idsWithPrefix("list blocks", blockPatientPrefix(patientID))
	if err != nil {
		return nil, err
	}
	blocks := make([]models.Block, 0, len(ids))
	for _, id := range ids {
		var b models.Block
		found, err := r.getJSON("list blocks", blockKey(id), &b)
		if err != nil {
			return nil, err
		}
		if found {
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

// Prescription repository methods
func rxIndexKey(rx *models.Prescription) []byte {
	return []byte(rxPatientPrefix(rx.PatientID) + timeKey(rx.CreatedAt) + ":" + rx.ID)
}

func (r *LevelDBRepository) PutPrescription(ctx context.Context, rx *models.Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rx.ID == "" {
		rx.ID = uuid.New().String()
	}
	if rx.CreatedAt.IsZero() {
		rx.CreatedAt = time.Now().UTC()
	}

	batch := new(leveldb.Batch)
	var existing models.Prescription
	found, err := r.getJSON("put prescription", rxKey(rx.ID), &existing)
	if err != nil {
		return err
	}
	if found {
		batch.Delete(rxIndexKey(&existing))
	}
	if err := putJSON(batch, rxKey(rx.ID), rx); err != nil {
		return storageErr("put prescription", err)
	}
	batch.Put(rxIndexKey(rx), []byte(rx.ID))
	return r.write("put prescription", batch)
}

func (r *LevelDBRepository) GetPrescription(ctx context.Context, id string) (*models.Prescription, error) {
	var rx models.Prescription
	found, err := r.getJSON("get prescription", rxKey(id), &rx)
	if err != nil || !found {
		return nil, err
	}
	return &rx, nil
}

func (r *LevelDBRepository) DeletePrescription(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rx models.Prescription
	found, err := r.getJSON("delete prescription", rxKey(id), &rx)
	if err != nil || !found {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(rxKey(id))
	batch.Delete(rxIndexKey(&rx))
	return r.write("delete prescription", batch)
}

func (r *LevelDBRepository) ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]models.Prescription, error) {
	ids, err := r.idsWithPrefix("list prescriptions", rxPatientPrefix(patientID))
	if err != nil {
		return nil, err
	}
	rxs := make([]models.Prescription, 0, len(ids))
	for _, id := range ids {
		rx, err := r.GetPrescription(ctx, id)
		if err != nil {
			return nil, err
		}
		if rx != nil {
			rxs = append(rxs, *rx)
		}
	}
	return rxs, nil
}
