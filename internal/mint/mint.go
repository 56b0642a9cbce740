// Package mint implements a single mint node: it validates reissue
// transactions, records spent key images, and returns signature shares for
// the outputs.
package mint

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ccoin/dbc/internal/bls"
	"github.com/ccoin/dbc/internal/spentbook"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
	"github.com/ccoin/dbc/pkg/types"
)

// Mint errors
var (
	ErrInsufficientFee      = errors.New("fee below mint minimum")
	ErrGenesisDisabled      = errors.New("genesis not enabled on this mint")
	ErrGenesisAlreadyIssued = errors.New("genesis already issued")
	ErrInvalidGenesis       = errors.New("invalid genesis request")
	ErrMintClosed           = errors.New("mint closed")
)

var genesisMarker = zkp.MarkerKeyImage("genesis")

// Config holds mint policy.
type Config struct {
	// MinFee is the smallest public fee accepted on a reissue.
	MinFee uint64 `yaml:"minFee"`
	// GenesisAmount is the total supply. Zero disables genesis.
	GenesisAmount uint64 `yaml:"genesisAmount"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{}
}

// Mint is one mint node. Reissues may run concurrently; the spentbook
// serializes conflicting spends.
type Mint struct {
	cfg       Config
	authority MintAuthority
	book      spentbook.Spentbook
	keys      dbc.KeyManager
	proofs    *zkp.RangeProofs
	logger    *zap.Logger

	onSpent   atomic.Pointer[func([]*dbc.SpentProof)]
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a mint. The mint takes ownership of book. keys must trust the
// authority's aggregate key, or outputs this mint signs could never be
// spent here.
func New(
	cfg *Config,
	authority MintAuthority,
	book spentbook.Spentbook,
	keys dbc.KeyManager,
	proofs *zkp.RangeProofs,
	logger *zap.Logger,
) (*Mint, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if authority == nil || book == nil || keys == nil {
		return nil, errors.New("mint needs an authority, a spentbook and a key manager")
	}
	if proofs == nil {
		proofs = zkp.DefaultRangeProofs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !keys.Trusts(authority.PublicKeySet().PublicKey()) {
		return nil, errors.Wrap(dbc.ErrUntrustedMintKey, "mint's own key set")
	}

	return &Mint{
		cfg:       *cfg,
		authority: authority,
		book:      book,
		keys:      keys,
		proofs:    proofs,
		logger:    logger.With(zap.Int("mint_index", authority.Index())),
	}, nil
}

// Index is this mint's share index.
func (m *Mint) Index() int {
	return m.authority.Index()
}

// PublicKeySet is the key set this mint signs under.
func (m *Mint) PublicKeySet() *bls.PublicKeySet {
	return m.authority.PublicKeySet()
}

// SetSpentHandler registers fn to receive spent proofs after they are
// logged. fn runs on the request goroutine and must not block.
func (m *Mint) SetSpentHandler(fn func([]*dbc.SpentProof)) {
	if fn == nil {
		m.onSpent.Store(nil)
		return
	}
	m.onSpent.Store(&fn)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, spentbook.ErrAlreadySpent):
		return "already_spent"
	case errors.Is(err, ErrInsufficientFee):
		return "insufficient_fee"
	case errors.Is(err, ErrGenesisAlreadyIssued):
		return "already_issued"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "rejected"
	}
}

// Reissue validates tx, logs its key images and returns this mint's
// signature shares. Shares are released only after every key image of tx
// has been logged; a failed log releases nothing.
func (m *Mint) Reissue(ctx context.Context, tx *dbc.ReissueTransaction) (share *dbc.ReissueShare, err error) {
	start := time.Now()
	defer func() {
		label := resultLabel(err)
		reissueTotal.WithLabelValues(label).Inc()
		reissueDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	if m.closed.Load() {
		return nil, ErrMintClosed
	}
	if tx == nil {
		return nil, errors.Wrap(dbc.ErrMalformedTransaction, "nil transaction")
	}

	if err := tx.Validate(m.keys, m.proofs); err != nil {
		m.logger.Debug("rejected reissue", zap.Error(err))
		return nil, err
	}
	if tx.Fee < m.cfg.MinFee {
		return nil, errors.Wrapf(ErrInsufficientFee, "fee %d, minimum %d", tx.Fee, m.cfg.MinFee)
	}

	// Fast path; LogSpentBatch below is the authoritative check.
	for _, ki := range tx.KeyImages() {
		spent, err := m.book.IsSpent(ctx, ki)
		if err != nil {
			return nil, err
		}
		if spent {
			return nil, errors.Wrapf(spentbook.ErrAlreadySpent, "key image %s", ki.Short())
		}
	}

	txHash := tx.Hash()
	contents := tx.OutputContents()
	outputShares := make([]bls.SignatureShare, len(contents))
	for i := range contents {
		id := contents[i].ID()
		outputShares[i] = m.authority.SignShare(id[:])
	}

	spentContents := tx.SpentProofContents()
	proofs := make([]*dbc.SpentProof, len(spentContents))
	entries := make([]*spentbook.Entry, len(spentContents))
	for i, c := range spentContents {
		h := c.Hash()
		proofs[i] = &dbc.SpentProof{Content: c, Share: m.authority.SignShare(h[:])}
		entries[i] = &spentbook.Entry{KeyImage: c.KeyImage, TransactionHash: txHash, Proof: proofs[i]}
	}

	if err := m.book.LogSpentBatch(ctx, entries); err != nil {
		if errors.Is(err, spentbook.ErrAlreadySpent) {
			m.logger.Info("double spend rejected", zap.String("tx", txHash.Short()), zap.Error(err))
		}
		return nil, err
	}
	keyImagesLogged.Add(float64(len(entries)))

	m.logger.Info("reissued",
		zap.String("tx", txHash.Short()),
		zap.Int("inputs", len(tx.Inputs)),
		zap.Int("outputs", len(tx.Outputs)),
		zap.Uint64("fee", tx.Fee),
	)
	if fn := m.onSpent.Load(); fn != nil {
		(*fn)(proofs)
	}

	return &dbc.ReissueShare{
		MintIndex:       m.authority.Index(),
		PublicKeySet:    m.authority.PublicKeySet(),
		TransactionHash: txHash,
		OutputsDigest:   dbc.OutputsDigest(contents),
		OutputShares:    outputShares,
		SpentProofs:     proofs,
	}, nil
}

// IssueGenesis signs the genesis DBC. It succeeds at most once per mint;
// the spentbook records a reserved marker key image to enforce that.
func (m *Mint) IssueGenesis(ctx context.Context, req *dbc.GenesisRequest) (share *dbc.ReissueShare, err error) {
	defer func() {
		genesisTotal.WithLabelValues(resultLabel(err)).Inc()
	}()

	if m.closed.Load() {
		return nil, ErrMintClosed
	}
	if m.cfg.GenesisAmount == 0 {
		return nil, ErrGenesisDisabled
	}
	if req == nil {
		return nil, errors.Wrap(ErrInvalidGenesis, "nil request")
	}
	c := req.Content
	if !c.IsGenesis() || c.Index != 0 {
		return nil, errors.Wrap(ErrInvalidGenesis, "content is not a genesis output")
	}
	if !c.OwnerPublicKey.IsValid() {
		return nil, errors.Wrap(ErrInvalidGenesis, "no owner")
	}
	if req.Secrets.Amount != m.cfg.GenesisAmount || !c.Commitment.Opens(req.Secrets.Amount, req.Secrets.Blinding) {
		return nil, errors.Wrapf(ErrInvalidGenesis, "commitment does not open to %d", m.cfg.GenesisAmount)
	}
	if err := m.proofs.Verify(c.Commitment, c.RangeProof); err != nil {
		return nil, err
	}

	id := c.ID()
	outputShare := m.authority.SignShare(id[:])

	marker := dbc.SpentProofContent{
		KeyImage:        genesisMarker,
		TransactionHash: dbc.GenesisProvenance,
		InputCommitment: c.Commitment,
	}
	h := marker.Hash()
	proof := &dbc.SpentProof{Content: marker, Share: m.authority.SignShare(h[:])}

	if err := m.book.LogSpent(ctx, genesisMarker, proof, dbc.GenesisProvenance); err != nil {
		if errors.Is(err, spentbook.ErrAlreadySpent) {
			return nil, ErrGenesisAlreadyIssued
		}
		return nil, err
	}

	m.logger.Info("issued genesis", zap.String("dbc", id.Short()), zap.Uint64("amount", m.cfg.GenesisAmount))
	contents := []dbc.Content{c}
	return &dbc.ReissueShare{
		MintIndex:       m.authority.Index(),
		PublicKeySet:    m.authority.PublicKeySet(),
		TransactionHash: dbc.GenesisProvenance,
		OutputsDigest:   dbc.OutputsDigest(contents),
		OutputShares:    []bls.SignatureShare{outputShare},
	}, nil
}

// SpentProof returns the proof logged for ki and the spending transaction,
// or a nil proof if ki is unspent.
func (m *Mint) SpentProof(ctx context.Context, ki zkp.KeyImage) (*dbc.SpentProof, types.Hash, error) {
	if m.closed.Load() {
		return nil, types.EmptyHash, ErrMintClosed
	}
	return m.book.ProofOfSpend(ctx, ki)
}

// Close stops accepting requests and closes the spentbook.
func (m *Mint) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		err = m.book.Close()
	})
	return err
}
