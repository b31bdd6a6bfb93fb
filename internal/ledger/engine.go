package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/medchain-server/internal/crypto"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/rongwang/medchain-server/internal/repository"
	"github.com/rongwang/medchain-server/internal/utils"
)

var (
	// ErrChainGap means the stored chain is not a gap-free 0..n sequence
	ErrChainGap = errors.New("chain gap")
	// ErrGenesisExists is returned when appending a second genesis block
	ErrGenesisExists = errors.New("genesis block already exists")
	// ErrConcurrentAppend means every retry lost the (patient, index) slot
	ErrConcurrentAppend = errors.New("concurrent append: retries exhausted")
)

// UnknownAuthor is recorded when the author's identity cannot be found
const UnknownAuthor = "Unknown"

const (
	reasonInvalidGenesis = "Invalid genesis"
	reasonPrevMismatch   = "Prev hash mismatch"
	reasonHashMismatch   = "Hash mismatch"
	reasonIndexMismatch  = "Index mismatch"
)

// Engine appends to and reads per-patient hash chains
type Engine struct {
	repo    repository.Repository
	log     *utils.Logger
	retries int
	now     func() time.Time

	// one mutex per patient; appends for different patients never contend
	locks sync.Map
}

// Option configures an Engine
type Option func(*Engine)

// WithRetries sets how many times an append is retried after losing the
// (patient, index) slot to another writer
func WithRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.retries = n
		}
	}
}

// WithClock overrides the block timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger
func WithLogger(l *utils.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates a ledger engine over repo
func NewEngine(repo repository.Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:    repo,
		log:     utils.NopLogger(),
		retries: 3,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ContentHash digests a payload descriptor as "<type>:<ref>"
func ContentHash(payloadType models.PayloadType, payloadRef string) string {
	return crypto.DigestString(string(payloadType) + ":" + payloadRef)
}

// Preimage builds the exact string hashed into a block's hash:
// prevHash|contentHash|timestamp|authorId|index
func Preimage(prevHash, contentHash string, timestamp int64, authorID string, index int64) string {
	return prevHash + "|" + contentHash + "|" + strconv.FormatInt(timestamp, 10) + "|" + authorID + "|" + strconv.FormatInt(index, 10)
}

// ComputeHash recomputes a block's hash from its stored fields
func ComputeHash(b *models.Block) string {
	content := ContentHash(b.PayloadType, b.PayloadRef)
	return crypto.DigestString(Preimage(b.PrevHash, content, b.Timestamp, b.AuthorID, b.Index))
}

func (e *Engine) lock(patientID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(patientID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Append adds a block documenting payload to patientID's chain. The first
// block of a chain must be genesis and genesis may only appear once.
func (e *Engine) Append(ctx context.Context, patientID string, payload models.Payload, authorID string) (*models.Block, error) {
	mu := e.lock(patientID)
	mu.Lock()
	defer mu.Unlock()

	authorName := UnknownAuthor
	author, err := e.repo.GetUserByID(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("error getting author: %w", err)
	}
	if author != nil {
		authorName = author.Name
	}

	for attempt := 0; attempt <= e.retries; attempt++ {
		block, err := e.next(ctx, patientID, payload, authorID, authorName)
		if err != nil {
			return nil, err
		}

		err = e.repo.PutBlock(ctx, block)
		if err == nil {
			e.log.Info("appended block %d (%s) for patient %s", block.Index, block.PayloadType, patientID)
			return block, nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, fmt.Errorf("error persisting block: %w", err)
		}
		// Another writer (e.g. a second process) took this index; rescan
		e.log.Warn("index %d for patient %s already taken, retrying", block.Index, patientID)
	}
	return nil, ErrConcurrentAppend
}

// next builds, but does not persist, the block that would follow the current tip
func (e *Engine) next(ctx context.Context, patientID string, payload models.Payload, authorID, authorName string) (*models.Block, error) {
	blocks, err := e.repo.ListBlocksByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("error listing blocks: %w", err)
	}

	var tip *models.Block
	for i := range blocks {
		if tip == nil || blocks[i].Index > tip.Index {
			tip = &blocks[i]
		}
	}

	index := int64(0)
	prevHash := models.GenesisPrevHash
	if tip != nil {
		index = tip.Index + 1
		prevHash = tip.Hash
	}
	if int64(len(blocks)) != index {
		return nil, fmt.Errorf("%w: patient %s has %d blocks but tip index %d", ErrChainGap, patientID, len(blocks), index-1)
	}

	isGenesis := payload.Type() == models.PayloadGenesis
	if isGenesis && index != 0 {
		return nil, ErrGenesisExists
	}
	if !isGenesis && index == 0 {
		return nil, fmt.Errorf("%w: patient %s has no genesis block", ErrChainGap, patientID)
	}

	block := &models.Block{
		ID:          uuid.New().String(),
		PatientID:   patientID,
		Index:       index,
		PrevHash:    prevHash,
		Timestamp:   e.now().UnixMilli(),
		PayloadType: payload.Type(),
		PayloadRef:  payload.Ref(),
		AuthorID:    authorID,
		AuthorName:  authorName,
	}
	block.Hash = ComputeHash(block)
	return block, nil
}

// GetLedger returns patientID's blocks ordered by index
func (e *Engine) GetLedger(ctx context.Context, patientID string) ([]models.Block, error) {
	blocks, err := e.repo.ListBlocksByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("error listing blocks: %w", err)
	}
	if blocks == nil {
		blocks = []models.Block{}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Index < blocks[j].Index })
	return blocks, nil
}

// Verify checks an index-ordered chain. It checks genesis, position,
// linkage and each block's own hash, and reports every failure rather
// than stopping at the first.
func Verify(blocks []models.Block) models.VerificationResult {
	failures := []models.ChainFailure{}
	fail := func(b *models.Block, reason string) {
		failures = append(failures, models.ChainFailure{Index: b.Index, Reason: reason})
	}

	for i := range blocks {
		b := &blocks[i]
		if i == 0 {
			if b.PayloadType != models.PayloadGenesis || b.PrevHash != models.GenesisPrevHash {
				fail(b, reasonInvalidGenesis)
			}
		} else if b.PrevHash != blocks[i-1].Hash {
			fail(b, reasonPrevMismatch)
		}
		if b.Index != int64(i) {
			fail(b, reasonIndexMismatch)
		}
		if ComputeHash(b) != b.Hash {
			fail(b, reasonHashMismatch)
		}
	}

	return models.VerificationResult{OK: len(failures) == 0, Failures: failures}
}
