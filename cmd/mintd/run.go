package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ccoin/dbc/internal/bls"
	"github.com/ccoin/dbc/internal/config"
	"github.com/ccoin/dbc/internal/mint"
	"github.com/ccoin/dbc/internal/spentbook"
	"github.com/ccoin/dbc/internal/storage"
	"github.com/ccoin/dbc/internal/transport"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve reissue requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runMint(ctx, cfg, logger)
	},
}

// rangeProofs builds the configured range proof scheme.
func rangeProofs(cfg *config.Config, verifyOnly bool) (*zkp.RangeProofs, error) {
	scheme, err := zkp.ParseRangeScheme(cfg.Mint.RangeProofScheme)
	if err != nil {
		return nil, err
	}
	if scheme != zkp.SchemeGroth16 {
		return zkp.NewRangeProofs(scheme, nil)
	}
	cm := zkp.NewCircuitManager()
	if err := cm.LoadKeys(cfg.Mint.CircuitDir, verifyOnly); err != nil {
		return nil, err
	}
	return zkp.NewRangeProofs(scheme, cm)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (spentbook.Store, error) {
	switch cfg.Spentbook.Backend {
	case config.BackendMemory:
		logger.Warn("memory spentbook: spends are lost on restart")
		return spentbook.NewMemoryStore(), nil
	case config.BackendPebble:
		return storage.NewPebbleStore(cfg.Spentbook.Path, logger)
	case config.BackendPostgres:
		return storage.NewPostgresStore(ctx, &cfg.Spentbook.Postgres, logger)
	}
	return nil, errors.Wrapf(config.ErrInvalidConfig, "backend %q", cfg.Spentbook.Backend)
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

// verifyGossip checks spent proofs announced by other mints of the group.
func verifyGossip(pks *bls.PublicKeySet, logger *zap.Logger) transport.SpentHandler {
	return func(_ context.Context, proofs []*dbc.SpentProof) {
		for _, p := range proofs {
			if err := p.Verify(pks); err != nil {
				logger.Warn("invalid spent proof from peer", zap.Int("mint", p.MintIndex()), zap.Error(err))
				continue
			}
			logger.Debug("peer logged spend",
				zap.Int("mint", p.MintIndex()),
				zap.String("key_image", p.Content.KeyImage.Short()),
				zap.String("tx", p.Content.TransactionHash.Short()),
			)
		}
	}
}

func runMint(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	share, pks, err := config.LoadKeyShare(cfg.Mint.KeyShareFile)
	if err != nil {
		return err
	}
	authority, err := mint.NewShareAuthority(share, pks)
	if err != nil {
		return err
	}
	proofs, err := rangeProofs(cfg, true)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	book, err := spentbook.NewBook(store, cfg.SpentbookPolicy(), logger)
	if err != nil {
		store.Close()
		return err
	}

	keys := dbc.NewSimpleKeyManager(pks.PublicKey())
	m, err := mint.New(cfg.MintPolicy(), authority, book, keys, proofs, logger)
	if err != nil {
		book.Close()
		return err
	}
	defer m.Close()

	host, err := transport.NewHost(ctx, &cfg.P2P, logger)
	if err != nil {
		return err
	}
	defer host.Close()

	server := transport.NewServer(host, m, logger)
	defer server.Close()

	announcer, err := transport.NewAnnouncer(host, verifyGossip(pks, logger), logger)
	if err != nil {
		return err
	}
	defer announcer.Close()
	m.SetSpentHandler(announcer.Announce)

	if cfg.Metrics.ListenAddr != "" {
		srv := serveMetrics(cfg.Metrics.ListenAddr, logger)
		defer srv.Close()
	}

	logger.Info("mint running",
		zap.Int("index", authority.Index()),
		zap.Int("threshold", pks.Threshold()),
		zap.String("scheme", proofs.Scheme().String()),
		zap.String("spentbook", cfg.Spentbook.Backend),
		zap.Strings("addrs", host.Addrs()),
	)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
