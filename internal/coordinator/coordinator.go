// Package coordinator collects signature shares from a quorum of mints and
// combines them into spendable DBCs.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ccoin/dbc/internal/bls"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
	"github.com/ccoin/dbc/pkg/types"
)

// Coordinator errors
var (
	ErrInsufficientShares = errors.New("insufficient signature shares")
	ErrConflictingShares  = errors.New("mints disagree on output content")
	ErrUnknownMint        = errors.New("unknown mint")
	ErrInvalidShare       = errors.New("invalid signature share")
)

// MintClient is one mint as seen by the coordinator. *mint.Mint satisfies it
// in process; transport.Client over the network.
type MintClient interface {
	Index() int
	Reissue(ctx context.Context, tx *dbc.ReissueTransaction) (*dbc.ReissueShare, error)
	IssueGenesis(ctx context.Context, req *dbc.GenesisRequest) (*dbc.ReissueShare, error)
	SpentProof(ctx context.Context, ki zkp.KeyImage) (*dbc.SpentProof, types.Hash, error)
}

// Config holds coordinator settings.
type Config struct {
	// MintTimeout bounds each request to a single mint.
	MintTimeout time.Duration `yaml:"mintTimeout"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{MintTimeout: 10 * time.Second}
}

// Result is a completed reissue.
type Result struct {
	// Outputs[i] is the signed DBC for output i of the transaction.
	Outputs []*dbc.DBC
	// SpentCertificates[i] certifies that input i was spent by the transaction.
	SpentCertificates []*dbc.SpentCertificate
}

// QuorumError reports why a round did not reach threshold. It matches
// ErrInsufficientShares, ErrConflictingShares when a mint disagreed, and
// every per-mint error through errors.Is.
type QuorumError struct {
	Op          string
	Threshold   int
	Valid       int
	Conflicting bool
	// MintErrors maps mint index to its failure.
	MintErrors map[int]error
}

func (e *QuorumError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d required shares", e.Op, e.Valid, e.Threshold)
	if e.Conflicting {
		b.WriteString(", conflicting shares")
	}
	idx := make([]int, 0, len(e.MintErrors))
	for i := range e.MintErrors {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		fmt.Fprintf(&b, "; mint %d: %v", i, e.MintErrors[i])
	}
	return b.String()
}

// Is matches the quorum sentinels.
func (e *QuorumError) Is(target error) bool {
	switch target {
	case ErrConflictingShares:
		return e.Conflicting
	case ErrInsufficientShares:
		return e.Valid < e.Threshold
	}
	return false
}

// Unwrap exposes the per-mint errors.
func (e *QuorumError) Unwrap() []error {
	errs := make([]error, 0, len(e.MintErrors))
	for _, err := range e.MintErrors {
		errs = append(errs, err)
	}
	return errs
}

// Coordinator fans requests out to mints sharing one public key set.
type Coordinator struct {
	cfg    Config
	pks    *bls.PublicKeySet
	mints  []MintClient
	logger *zap.Logger
}

// New creates a coordinator over mints. Each mint must have a distinct index
// and there must be at least threshold of them.
func New(cfg *Config, pks *bls.PublicKeySet, mints []MintClient, logger *zap.Logger) (*Coordinator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pks == nil {
		return nil, errors.New("nil public key set")
	}
	seen := make(map[int]bool, len(mints))
	for _, m := range mints {
		i := m.Index()
		if i < 0 || i >= bls.MaxShares || seen[i] {
			return nil, errors.Wrapf(ErrUnknownMint, "index %d", i)
		}
		seen[i] = true
	}
	if len(mints) < pks.Threshold() {
		return nil, errors.Wrapf(ErrInsufficientShares, "%d mints for threshold %d", len(mints), pks.Threshold())
	}
	return &Coordinator{cfg: *cfg, pks: pks, mints: mints, logger: logger}, nil
}

// PublicKeySet is the key set outputs are signed under.
func (c *Coordinator) PublicKeySet() *bls.PublicKeySet {
	return c.pks
}

// round is one fan-out. Shares are accepted until threshold is reached;
// slower mints are then abandoned.
type round struct {
	op        string
	threshold int

	mu          sync.Mutex
	shares      []*dbc.ReissueShare
	errs        map[int]error
	conflicting bool
}

func (r *round) record(index int, share *dbc.ReissueShare, err error) (done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs[index] = err
		if errors.Is(err, ErrConflictingShares) {
			r.conflicting = true
		}
		return false
	}
	r.shares = append(r.shares, share)
	return len(r.shares) >= r.threshold
}

func (r *round) result() ([]*dbc.ReissueShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicting || len(r.shares) < r.threshold {
		return nil, &QuorumError{
			Op:          r.op,
			Threshold:   r.threshold,
			Valid:       len(r.shares),
			Conflicting: r.conflicting,
			MintErrors:  r.errs,
		}
	}
	sort.Slice(r.shares, func(i, j int) bool { return r.shares[i].MintIndex < r.shares[j].MintIndex })
	return r.shares, nil
}

// collect calls every mint in parallel and returns at least threshold shares
// that passed check.
func (c *Coordinator) collect(
	ctx context.Context,
	op string,
	call func(context.Context, MintClient) (*dbc.ReissueShare, error),
	check func(int, *dbc.ReissueShare) error,
) ([]*dbc.ReissueShare, error) {
	start := time.Now()
	r := &round{op: op, threshold: c.pks.Threshold(), errs: make(map[int]error)}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range c.mints {
		m := m
		g.Go(func() error {
			mctx, mcancel := context.WithTimeout(gctx, c.cfg.MintTimeout)
			defer mcancel()

			callStart := time.Now()
			share, err := call(mctx, m)
			if err == nil {
				err = check(m.Index(), share)
			}
			mintLatency.WithLabelValues(op).Observe(time.Since(callStart).Seconds())
			if err != nil {
				c.logger.Debug("mint share rejected", zap.String("op", op), zap.Int("mint", m.Index()), zap.Error(err))
			}
			if r.record(m.Index(), share, err) {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	shares, err := r.result()
	roundsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	roundDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return shares, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflictingShares):
		return "conflicting"
	default:
		return "insufficient"
	}
}

// checkShare verifies a share against the content the coordinator expects.
// A share whose signatures verify over different content is a conflict.
func (c *Coordinator) checkShare(
	index int,
	share *dbc.ReissueShare,
	txHash types.Hash,
	contents []dbc.Content,
	spent []dbc.SpentProofContent,
) error {
	if share.MintIndex != index {
		return errors.Wrapf(ErrUnknownMint, "share claims index %d", share.MintIndex)
	}
	if share.PublicKeySet == nil || !share.PublicKeySet.Equal(c.pks) {
		return errors.Wrap(ErrUnknownMint, "share under a different key set")
	}
	if share.TransactionHash != txHash || share.OutputsDigest != dbc.OutputsDigest(contents) {
		return errors.Wrapf(ErrConflictingShares, "mint %d signed transaction %s", index, share.TransactionHash.Short())
	}
	if len(share.OutputShares) != len(contents) || len(share.SpentProofs) != len(spent) {
		return errors.Wrapf(ErrInvalidShare, "mint %d returned %d outputs, %d spent proofs", index, len(share.OutputShares), len(share.SpentProofs))
	}
	for i := range contents {
		id := contents[i].ID()
		s := share.OutputShares[i]
		if s.Index != index || !c.pks.VerifyShare(id[:], s) {
			return errors.Wrapf(ErrInvalidShare, "mint %d output %d", index, i)
		}
	}
	for i, p := range share.SpentProofs {
		if p == nil || p.Content != spent[i] || p.MintIndex() != index {
			return errors.Wrapf(ErrConflictingShares, "mint %d spent proof %d", index, i)
		}
		if err := p.Verify(c.pks); err != nil {
			return errors.Wrapf(ErrInvalidShare, "mint %d: %v", index, err)
		}
	}
	return nil
}

// combine turns a quorum of checked shares into signed DBCs.
func (c *Coordinator) combine(shares []*dbc.ReissueShare, contents []dbc.Content) ([]*dbc.DBC, error) {
	outputs := make([]*dbc.DBC, len(contents))
	for i := range contents {
		sigShares := make([]bls.SignatureShare, len(shares))
		for j, s := range shares {
			sigShares[j] = s.OutputShares[i]
		}
		sig, err := c.pks.Combine(sigShares)
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", i)
		}
		d := &dbc.DBC{Content: contents[i], MintPublicKey: c.pks.PublicKey(), MintSignature: sig}
		id := d.ID()
		if !d.MintPublicKey.Verify(id[:], sig) {
			return nil, errors.Wrapf(ErrInvalidShare, "combined signature for output %d", i)
		}
		outputs[i] = d
	}
	return outputs, nil
}

// Reissue submits tx to every mint and returns the signed outputs once a
// threshold of mints agree. No outputs are returned on failure.
func (c *Coordinator) Reissue(ctx context.Context, tx *dbc.ReissueTransaction) (*Result, error) {
	txHash := tx.Hash()
	contents := tx.OutputContents()
	spent := tx.SpentProofContents()

	shares, err := c.collect(ctx, "reissue",
		func(ctx context.Context, m MintClient) (*dbc.ReissueShare, error) {
			return m.Reissue(ctx, tx)
		},
		func(index int, s *dbc.ReissueShare) error {
			return c.checkShare(index, s, txHash, contents, spent)
		},
	)
	if err != nil {
		return nil, err
	}

	outputs, err := c.combine(shares, contents)
	if err != nil {
		return nil, err
	}
	certs := make([]*dbc.SpentCertificate, len(spent))
	for i := range spent {
		proofs := make([]*dbc.SpentProof, len(shares))
		for j, s := range shares {
			proofs[j] = s.SpentProofs[i]
		}
		if certs[i], err = dbc.CombineSpentProofs(c.pks, proofs); err != nil {
			return nil, errors.Wrapf(err, "input %d", i)
		}
	}
	if err := dbc.VerifySpentCertificates(tx, certs, dbc.NewSimpleKeyManager(c.pks.PublicKey())); err != nil {
		return nil, err
	}

	c.logger.Info("reissue complete",
		zap.String("tx", txHash.Short()),
		zap.Int("shares", len(shares)),
		zap.Int("outputs", len(outputs)),
	)
	return &Result{Outputs: outputs, SpentCertificates: certs}, nil
}

// IssueGenesis asks the mints to sign the genesis DBC described by g and
// returns it as a spendable bundle.
func (c *Coordinator) IssueGenesis(ctx context.Context, g *dbc.GenesisMaterial) (*dbc.Bundle, error) {
	req := g.Request()
	contents := []dbc.Content{g.Content}

	shares, err := c.collect(ctx, "genesis",
		func(ctx context.Context, m MintClient) (*dbc.ReissueShare, error) {
			return m.IssueGenesis(ctx, req)
		},
		func(index int, s *dbc.ReissueShare) error {
			return c.checkShare(index, s, dbc.GenesisProvenance, contents, nil)
		},
	)
	if err != nil {
		return nil, err
	}

	outputs, err := c.combine(shares, contents)
	if err != nil {
		return nil, err
	}
	c.logger.Info("genesis issued", zap.String("dbc", outputs[0].ID().Short()))
	return g.Bundle(outputs[0])
}

// SpentCertificate asks the mints for their proofs on ki and combines a
// threshold of matching proofs. It returns a nil certificate when a
// threshold of mints answered but too few of them have ki logged, and a
// QuorumError when too few answered at all.
func (c *Coordinator) SpentCertificate(ctx context.Context, ki zkp.KeyImage) (*dbc.SpentCertificate, error) {
	threshold := c.pks.Threshold()
	var (
		mu      sync.Mutex
		byHash  = make(map[types.Hash][]*dbc.SpentProof)
		unspent int
		errs    = make(map[int]error)
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range c.mints {
		m := m
		g.Go(func() error {
			mctx, mcancel := context.WithTimeout(gctx, c.cfg.MintTimeout)
			defer mcancel()
			proof, _, err := m.SpentProof(mctx, ki)
			if err == nil && proof != nil {
				if proof.Content.KeyImage != ki || proof.MintIndex() != m.Index() || proof.Verify(c.pks) != nil {
					c.logger.Warn("invalid spent proof", zap.Int("mint", m.Index()), zap.String("key_image", ki.Short()))
					err = errors.Wrapf(ErrInvalidShare, "mint %d spent proof", m.Index())
				}
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				c.logger.Debug("spent proof unavailable", zap.Int("mint", m.Index()), zap.Error(err))
				errs[m.Index()] = err
			case proof == nil:
				unspent++
				if unspent >= threshold {
					cancel()
				}
			default:
				h := proof.Content.Hash()
				byHash[h] = append(byHash[h], proof)
				if len(byHash[h]) >= threshold {
					cancel()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if len(byHash) > 1 {
		return nil, errors.Wrapf(ErrConflictingShares, "key image %s attested for %d transactions", ki.Short(), len(byHash))
	}
	answered := unspent
	for _, proofs := range byHash {
		if len(proofs) >= threshold {
			return dbc.CombineSpentProofs(c.pks, proofs)
		}
		answered += len(proofs)
	}
	if answered >= threshold {
		return nil, nil
	}
	return nil, &QuorumError{Op: "spent-certificate", Threshold: threshold, Valid: answered, MintErrors: errs}
}
