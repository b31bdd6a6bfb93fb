package api_test

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"

	"github.com/rongwang/medchain-server/internal/api/testutils"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentLedgerAppends(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	alice := testutils.SignUpAndLogin(t, testCtx, "Alice", "alice@x.com", models.RolePatient)
	bob := testutils.SignUpAndLogin(t, testCtx, "Bob", "bob@x.com", models.RoleDoctor)
	require.Equal(t, http.StatusCreated, grant(testCtx, alice, bob))

	const numGoroutines = 10
	const writesPerGoroutine = 5

	// Patient reports and doctor notes race against each other
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(routineID int) {
			defer wg.Done()

			for j := 0; j < writesPerGoroutine; j++ {
				if routineID%2 == 0 {
					w := testutils.PerformMultipart(
						testCtx.Router,
						fmt.Sprintf("/api/patients/%s/reports", alice.ID),
						map[string]string{"title": fmt.Sprintf("Report %d_%d", routineID, j)},
						"",
						nil,
						testutils.AuthHeaders(alice.Token),
					)
					assert.Equal(t, http.StatusCreated, w.Code)
				} else {
					w := testutils.PerformRequest(
						testCtx.Router,
						http.MethodPost,
						fmt.Sprintf("/api/patients/%s/notes", alice.ID),
						models.NoteRequest{Text: fmt.Sprintf("Note %d_%d", routineID, j)},
						testutils.AuthHeaders(bob.Token),
					)
					assert.Equal(t, http.StatusCreated, w.Code)
				}
			}
		}(i)
	}
	wg.Wait()

	ledger := getLedger(t, testCtx, alice.ID, alice.Token)

	// genesis + grant + every write
	require.Len(t, ledger.Blocks, 2+numGoroutines*writesPerGoroutine)
	assert.True(t, ledger.Verification.OK, "%v", ledger.Verification.Failures)

	indexes := make([]int64, len(ledger.Blocks))
	refs := make(map[string]bool)
	for i, b := range ledger.Blocks {
		indexes[i] = b.Index
		refs[b.PayloadRef] = true
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	for i, idx := range indexes {
		assert.Equal(t, int64(i), idx, "Indexes should be continuous without gaps")
	}

	// Every record got exactly one block
	records := history(t, testCtx, alice.ID, alice)
	assert.Len(t, records, numGoroutines*writesPerGoroutine)
	for _, r := range records {
		assert.True(t, refs[r.ID], "record %s has no block", r.ID)
	}
}

func TestConcurrentPatientsDoNotInterfere(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	const numPatients = 5
	const reportsPerPatient = 8

	patients := make([]testutils.TestUser, numPatients)
	for i := range patients {
		patients[i] = testutils.SignUpAndLogin(t, testCtx, fmt.Sprintf("Patient %d", i), fmt.Sprintf("p%d@x.com", i), models.RolePatient)
	}

	var wg sync.WaitGroup
	for _, p := range patients {
		for j := 0; j < reportsPerPatient; j++ {
			wg.Add(1)
			go func(p testutils.TestUser, j int) {
				defer wg.Done()
				w := testutils.PerformMultipart(
					testCtx.Router,
					fmt.Sprintf("/api/patients/%s/reports", p.ID),
					map[string]string{"title": fmt.Sprintf("Report %d", j)},
					"",
					nil,
					testutils.AuthHeaders(p.Token),
				)
				assert.Equal(t, http.StatusCreated, w.Code)
			}(p, j)
		}
	}
	wg.Wait()

	for _, p := range patients {
		ledger := getLedger(t, testCtx, p.ID, p.Token)
		assert.Len(t, ledger.Blocks, 1+reportsPerPatient)
		assert.True(t, ledger.Verification.OK)
		for _, b := range ledger.Blocks {
			assert.Equal(t, p.ID, b.PatientID)
		}
	}
}
