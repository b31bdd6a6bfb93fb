package repository

import (
	"context"
	"testing"
	"time"

	"github.com/rongwang/medchain-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemRepo(t *testing.T) *LevelDBRepository {
	t.Helper()
	repo, err := OpenMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestLevelDBUsers(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(t)

	alice := &models.User{
		ID:              "u-alice",
		Email:           "alice@x.com",
		Name:            "Alice",
		Role:            models.RolePatient,
		AuthMethod:      models.AuthMethodPassword,
		SaltHex:         "00ff",
		PasswordHashHex: "abcd",
	}
	require.NoError(t, repo.PutUser(ctx, alice))
	assert.False(t, alice.CreatedAt.IsZero())

	t.Run("CredentialsRoundTrip", func(t *testing.T) {
		got, err := repo.GetUserByEmail(ctx, "alice@x.com")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "00ff", got.SaltHex)
		assert.Equal(t, "abcd", got.PasswordHashHex)
	})

	t.Run("EmailIsUnique", func(t *testing.T) {
		err := repo.PutUser(ctx, &models.User{ID: "u-other", Email: "alice@x.com", Name: "Other", Role: models.RoleDoctor})
		assert.ErrorIs(t, err, ErrDuplicateKey)

		var storageErr *StorageError
		assert.ErrorAs(t, err, &storageErr)
	})

	t.Run("UpdateKeepsIndexesConsistent", func(t *testing.T) {
		alice.Profile.Age = "40"
		alice.Role = models.RoleDoctor
		require.NoError(t, repo.PutUser(ctx, alice))

		patients, err := repo.ListUsersByRole(ctx, models.RolePatient)
		require.NoError(t, err)
		assert.Empty(t, patients)

		doctors, err := repo.ListUsersByRole(ctx, models.RoleDoctor)
		require.NoError(t, err)
		require.Len(t, doctors, 1)
		assert.Equal(t, "40", doctors[0].Profile.Age)
	})

	t.Run("MissingIsNil", func(t *testing.T) {
		got, err := repo.GetUserByID(ctx, "nope")
		assert.NoError(t, err)
		assert.Nil(t, got)

		got, err = repo.GetUserByEmail(ctx, "nope@x.com")
		assert.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestLevelDBPermissions(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(t)

	perm := &models.Permission{ID: "perm-1", PatientID: "p1", DoctorID: "d1"}
	require.NoError(t, repo.PutPermission(ctx, perm))

	err := repo.PutPermission(ctx, &models.Permission{ID: "perm-2", PatientID: "p1", DoctorID: "d1"})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	require.NoError(t, repo.PutPermission(ctx, &models.Permission{ID: "perm-3", PatientID: "p2", DoctorID: "d1"}))

	got, err := repo.GetPermission(ctx, "p1", "d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "perm-1", got.ID)

	forDoctor, err := repo.ListPermissionsForDoctor(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, forDoctor, 2)

	require.NoError(t, repo.DeletePermission(ctx, "perm-1"))
	// Deleting twice is harmless
	require.NoError(t, repo.DeletePermission(ctx, "perm-1"))

	got, err = repo.GetPermission(ctx, "p1", "d1")
	require.NoError(t, err)
	assert.Nil(t, got)

	forPatient, err := repo.ListPermissionsForPatient(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, forPatient)

	// The pair is free again
	require.NoError(t, repo.PutPermission(ctx, &models.Permission{ID: "perm-4", PatientID: "p1", DoctorID: "d1"}))
}

func TestLevelDBBlocks(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(t)

	for i := int64(0); i < 12; i++ {
		require.NoError(t, repo.PutBlock(ctx, &models.Block{PatientID: "p1", Index: i, Hash: "h"}))
	}
	require.NoError(t, repo.PutBlock(ctx, &models.Block{PatientID: "p2", Index: 0}))

	t.Run("IndexSlotIsUnique", func(t *testing.T) {
		err := repo.PutBlock(ctx, &models.Block{ID: "dup", PatientID: "p1", Index: 3})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("RepeatedPutIsNoop", func(t *testing.T) {
		b := &models.Block{ID: "fixed", PatientID: "p3", Index: 0, Hash: "first"}
		require.NoError(t, repo.PutBlock(ctx, b))
		require.NoError(t, repo.PutBlock(ctx, &models.Block{ID: "fixed", PatientID: "p3", Index: 0, Hash: "second"}))

		blocks, err := repo.ListBlocksByPatient(ctx, "p3")
		require.NoError(t, err)
		require.Len(t, blocks, 1)
		assert.Equal(t, "first", blocks[0].Hash)
	})

	t.Run("ListedInIndexOrder", func(t *testing.T) {
		blocks, err := repo.ListBlocksByPatient(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, blocks, 12)
		for i, b := range blocks {
			assert.Equal(t, int64(i), b.Index)
		}
	})
}

func TestLevelDBRecordsAndFiles(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, title := range []string{"first", "second", "third"} {
		require.NoError(t, repo.PutRecord(ctx, &models.RecordItem{
			PatientID: "p1",
			AuthorID:  "p1",
			Type:      models.RecordReport,
			Title:     title,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := repo.ListRecordsByPatient(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "first", records[0].Title)
	assert.Equal(t, "third", records[2].Title)

	got, err := repo.GetRecord(ctx, records[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Title)

	blob := &models.FileBlob{ContentType: "application/pdf", Data: []byte{0x25, 0x50, 0x44, 0x46}}
	require.NoError(t, repo.PutFile(ctx, blob))
	require.NotEmpty(t, blob.ID)

	gotBlob, err := repo.GetFile(ctx, blob.ID)
	require.NoError(t, err)
	assert.Equal(t, blob.Data, gotBlob.Data)

	missing, err := repo.GetFile(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLevelDBPrescriptions(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(t)

	rx := &models.Prescription{PatientID: "p1", DoctorID: "d1", Medication: "Amoxicillin", Dosage: "500mg"}
	require.NoError(t, repo.PutPrescription(ctx, rx))
	require.NoError(t, repo.PutPrescription(ctx, &models.Prescription{PatientID: "p1", DoctorID: "d1", Medication: "Ibuprofen"}))

	rxs, err := repo.ListPrescriptionsByPatient(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, rxs, 2)

	require.NoError(t, repo.DeletePrescription(ctx, rx.ID))

	got, err := repo.GetPrescription(ctx, rx.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	rxs, err = repo.ListPrescriptionsByPatient(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, rxs, 1)
	assert.Equal(t, "Ibuprofen", rxs[0].Medication)
}
