package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockPayloadDecoding(t *testing.T) {
	payloads := []Payload{
		GenesisPayload{},
		ReportPayload{RecordID: "r1"},
		UpdatePayload{RecordID: "n1"},
		AccessGrantedPayload{PermissionID: "perm1"},
		AccessRevokedPayload{PatientID: "p1", DoctorID: "d1"},
		PrescriptionPayload{PrescriptionID: "rx1"},
	}

	for _, p := range payloads {
		t.Run(string(p.Type()), func(t *testing.T) {
			b := Block{PayloadType: p.Type(), PayloadRef: p.Ref()}
			decoded, err := b.Payload()
			require.NoError(t, err)
			assert.Equal(t, p, decoded)
		})
	}
}

func TestBlockPayloadErrors(t *testing.T) {
	_, err := (&Block{PayloadType: "bogus"}).Payload()
	assert.Error(t, err)

	_, err = (&Block{PayloadType: PayloadAccessRevoked, PayloadRef: "no-separator"}).Payload()
	assert.Error(t, err)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RolePatient.Valid())
	assert.True(t, RoleDoctor.Valid())
	assert.False(t, Role("admin").Valid())
	assert.False(t, Role("").Valid())
}

func TestProfileColumn(t *testing.T) {
	v, err := Profile{Age: "30", BMI: "22.1"}.Value()
	require.NoError(t, err)

	var p Profile
	require.NoError(t, p.Scan(v))
	assert.Equal(t, "30", p.Age)
	assert.Equal(t, "22.1", p.BMI)

	require.NoError(t, p.Scan(nil))
	assert.Equal(t, Profile{}, p)

	assert.Error(t, p.Scan(42))
}
