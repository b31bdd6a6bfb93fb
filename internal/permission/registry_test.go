package permission

import (
	"context"
	"testing"

	"github.com/rongwang/medchain-server/internal/models"
	"github.com/rongwang/medchain-server/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistry(t *testing.T) (*Registry, repository.Repository) {
	t.Helper()
	repo, err := repository.OpenMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	for _, u := range []models.User{
		{ID: "p1", Email: "p1@x.com", Name: "Alice", Role: models.RolePatient},
		{ID: "d1", Email: "d1@x.com", Name: "Bob", Role: models.RoleDoctor},
		{ID: "d2", Email: "d2@x.com", Name: "Dan", Role: models.RoleDoctor},
	} {
		u := u
		require.NoError(t, repo.PutUser(ctx, &u))
	}
	return NewRegistry(repo), repo
}

func TestGrantRevokeCycle(t *testing.T) {
	ctx := context.Background()
	reg, repo := setupRegistry(t)

	ok, err := reg.HasAccess(ctx, "p1", "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	perm, err := reg.Grant(ctx, "p1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "p1", perm.PatientID)
	assert.Equal(t, "d1", perm.DoctorID)

	_, err = reg.Grant(ctx, "p1", "d1")
	assert.ErrorIs(t, err, ErrDuplicateGrant)

	ok, err = reg.HasAccess(ctx, "p1", "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Access is directional and per pair
	ok, err = reg.HasAccess(ctx, "p1", "d2")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := reg.Revoke(ctx, "p1", "d1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = reg.Revoke(ctx, "p1", "d1")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = reg.Grant(ctx, "p1", "d1")
	require.NoError(t, err)

	perms, err := repo.ListPermissionsForPatient(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func TestListings(t *testing.T) {
	ctx := context.Background()
	reg, _ := setupRegistry(t)

	_, err := reg.Grant(ctx, "p1", "d1")
	require.NoError(t, err)
	_, err = reg.Grant(ctx, "p1", "d2")
	require.NoError(t, err)
	// A grant to an identity that does not exist is dropped from listings
	_, err = reg.Grant(ctx, "p1", "ghost")
	require.NoError(t, err)

	grantees, err := reg.ListGranteesFor(ctx, "p1")
	require.NoError(t, err)
	names := []string{}
	for _, u := range grantees {
		names = append(names, u.Name)
	}
	assert.ElementsMatch(t, []string{"Bob", "Dan"}, names)

	subjects, err := reg.ListSubjectsFor(ctx, "d1")
	require.NoError(t, err)
	if assert.Len(t, subjects, 1) {
		assert.Equal(t, "Alice", subjects[0].Name)
	}

	subjects, err = reg.ListSubjectsFor(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, subjects)
}
