package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rongwang/medchain-server/internal/crypto"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/rongwang/medchain-server/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contendedRepo loses the first n block writes as if another process won the slot
type contendedRepo struct {
	repository.Repository
	mu    sync.Mutex
	loses int
}

func (r *contendedRepo) PutBlock(ctx context.Context, b *models.Block) error {
	r.mu.Lock()
	if r.loses > 0 {
		r.loses--
		r.mu.Unlock()
		// Someone else writes the slot first
		stolen := *b
		stolen.ID = ""
		stolen.AuthorID = "intruder"
		stolen.Hash = ComputeHash(&stolen)
		if err := r.Repository.PutBlock(ctx, &stolen); err != nil {
			return err
		}
		return r.Repository.PutBlock(ctx, b)
	}
	r.mu.Unlock()
	return r.Repository.PutBlock(ctx, b)
}

func newRepo(t *testing.T) repository.Repository {
	t.Helper()
	repo, err := repository.OpenMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, repo.PutUser(context.Background(), &models.User{
		ID: "alice", Email: "alice@x.com", Name: "Alice", Role: models.RolePatient,
	}))
	return repo
}

func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func TestPreimageFormat(t *testing.T) {
	assert.Equal(t, "GENESIS|abc|1700000000000|u1|0", Preimage("GENESIS", "abc", 1700000000000, "u1", 0))
	assert.Equal(t, crypto.DigestString("report:r1"), ContentHash(models.PayloadReport, "r1"))
	assert.Equal(t, crypto.DigestString("genesis:"), ContentHash(models.PayloadGenesis, ""))
}

func TestAppendBuildsLinkedChain(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(newRepo(t), WithClock(steppingClock(time.Unix(1700000000, 0))))

	genesis, err := engine.Append(ctx, "alice", models.GenesisPayload{}, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), genesis.Index)
	assert.Equal(t, models.GenesisPrevHash, genesis.PrevHash)
	assert.Equal(t, "Alice", genesis.AuthorName)
	assert.Len(t, genesis.Hash, 64)

	report, err := engine.Append(ctx, "alice", models.ReportPayload{RecordID: "r1"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Index)
	assert.Equal(t, genesis.Hash, report.PrevHash)
	assert.Equal(t, "r1", report.PayloadRef)

	expected := crypto.DigestString(Preimage(genesis.Hash, ContentHash(models.PayloadReport, "r1"), report.Timestamp, "alice", 1))
	assert.Equal(t, expected, report.Hash)

	// An author that cannot be resolved is recorded as unknown
	note, err := engine.Append(ctx, "alice", models.UpdatePayload{RecordID: "n1"}, "ghost")
	require.NoError(t, err)
	assert.Equal(t, UnknownAuthor, note.AuthorName)

	blocks, err := engine.GetLedger(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.True(t, Verify(blocks).OK)
}

func TestAppendRules(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(newRepo(t))

	_, err := engine.Append(ctx, "alice", models.ReportPayload{RecordID: "r1"}, "alice")
	assert.ErrorIs(t, err, ErrChainGap, "first block must be genesis")

	_, err = engine.Append(ctx, "alice", models.GenesisPayload{}, "alice")
	require.NoError(t, err)

	_, err = engine.Append(ctx, "alice", models.GenesisPayload{}, "alice")
	assert.ErrorIs(t, err, ErrGenesisExists)

	blocks, err := engine.GetLedger(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, blocks)
	assert.Empty(t, blocks)
}

func TestAppendDetectsGap(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	engine := NewEngine(repo)

	_, err := engine.Append(ctx, "alice", models.GenesisPayload{}, "alice")
	require.NoError(t, err)

	// Index 1 is missing
	require.NoError(t, repo.PutBlock(ctx, &models.Block{PatientID: "alice", Index: 2, PayloadType: models.PayloadReport}))

	_, err = engine.Append(ctx, "alice", models.ReportPayload{RecordID: "r1"}, "alice")
	assert.ErrorIs(t, err, ErrChainGap)
}

func TestAppendRetriesLostSlot(t *testing.T) {
	ctx := context.Background()
	base := newRepo(t)
	engine := NewEngine(base)
	_, err := engine.Append(ctx, "alice", models.GenesisPayload{}, "alice")
	require.NoError(t, err)

	contended := &contendedRepo{Repository: base, loses: 2}
	engine = NewEngine(contended, WithRetries(3))

	b, err := engine.Append(ctx, "alice", models.ReportPayload{RecordID: "r1"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.Index)

	blocks, err := engine.GetLedger(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, blocks, 4)
	assert.True(t, Verify(blocks).OK)

	exhausted := NewEngine(&contendedRepo{Repository: base, loses: 5}, WithRetries(1))
	_, err = exhausted.Append(ctx, "alice", models.ReportPayload{RecordID: "r2"}, "alice")
	assert.ErrorIs(t, err, ErrConcurrentAppend)
}

func TestConcurrentAppendsAreSerialized(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(newRepo(t))
	_, err := engine.Append(ctx, "alice", models.GenesisPayload{}, "alice")
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Append(ctx, "alice", models.UpdatePayload{RecordID: "n"}, "alice")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	blocks, err := engine.GetLedger(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, blocks, writers+1)
	for i, b := range blocks {
		assert.Equal(t, int64(i), b.Index)
	}
	assert.True(t, Verify(blocks).OK)
}

func buildChain(t *testing.T, n int) []models.Block {
	t.Helper()
	ctx := context.Background()
	engine := NewEngine(newRepo(t), WithClock(steppingClock(time.Unix(1700000000, 0))))

	_, err := engine.Append(ctx, "alice", models.GenesisPayload{}, "alice")
	require.NoError(t, err)
	for i := 1; i < n; i++ {
		_, err := engine.Append(ctx, "alice", models.ReportPayload{RecordID: "r"}, "alice")
		require.NoError(t, err)
	}
	blocks, err := engine.GetLedger(ctx, "alice")
	require.NoError(t, err)
	return blocks
}

func TestVerify(t *testing.T) {
	t.Run("EmptyChainIsValid", func(t *testing.T) {
		result := Verify(nil)
		assert.True(t, result.OK)
		assert.NotNil(t, result.Failures)
	})

	t.Run("IntactChain", func(t *testing.T) {
		result := Verify(buildChain(t, 4))
		assert.True(t, result.OK)
		assert.Empty(t, result.Failures)
	})

	t.Run("TamperedPayloadRef", func(t *testing.T) {
		blocks := buildChain(t, 4)
		blocks[2].PayloadRef = "forged"

		result := Verify(blocks)
		assert.False(t, result.OK)
		assert.Equal(t, []models.ChainFailure{{Index: 2, Reason: "Hash mismatch"}}, result.Failures)
	})

	t.Run("RewrittenHashBreaksNextLink", func(t *testing.T) {
		blocks := buildChain(t, 4)
		blocks[1].AuthorID = "mallory"
		blocks[1].Hash = ComputeHash(&blocks[1])

		result := Verify(blocks)
		assert.False(t, result.OK)
		assert.Equal(t, []models.ChainFailure{{Index: 2, Reason: "Prev hash mismatch"}}, result.Failures)
	})

	t.Run("TamperedPrevHash", func(t *testing.T) {
		blocks := buildChain(t, 4)
		blocks[2].PrevHash = "x"

		result := Verify(blocks)
		assert.False(t, result.OK)
		assert.Equal(t, []models.ChainFailure{
			{Index: 2, Reason: "Prev hash mismatch"},
			{Index: 2, Reason: "Hash mismatch"},
		}, result.Failures)
	})

	t.Run("InvalidGenesis", func(t *testing.T) {
		blocks := buildChain(t, 2)
		blocks[0].PrevHash = "something"

		result := Verify(blocks)
		assert.False(t, result.OK)
		assert.Contains(t, result.Failures, models.ChainFailure{Index: 0, Reason: "Invalid genesis"})
		assert.Contains(t, result.Failures, models.ChainFailure{Index: 0, Reason: "Hash mismatch"})
	})

	t.Run("MissingBlock", func(t *testing.T) {
		blocks := buildChain(t, 4)
		blocks = append(blocks[:1], blocks[2:]...)

		result := Verify(blocks)
		assert.False(t, result.OK)
		assert.Contains(t, result.Failures, models.ChainFailure{Index: 2, Reason: "Prev hash mismatch"})
		assert.Contains(t, result.Failures, models.ChainFailure{Index: 2, Reason: "Index mismatch"})
	})
}
