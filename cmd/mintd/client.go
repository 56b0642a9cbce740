package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ccoin/dbc/internal/config"
	"github.com/ccoin/dbc/internal/coordinator"
	"github.com/ccoin/dbc/internal/transport"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
)

var genesisOut string

// dialGroup connects to every configured member and returns a coordinator
// over them. The caller closes the host.
func dialGroup(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*coordinator.Coordinator, *transport.Host, error) {
	pks, err := config.LoadPublicKeySet(cfg.Mint.KeyShareFile)
	if err != nil {
		return nil, nil, err
	}

	hostCfg := cfg.P2P
	hostCfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	hostCfg.IdentityFile = ""
	host, err := transport.NewHost(ctx, &hostCfg, logger)
	if err != nil {
		return nil, nil, err
	}

	clients := make([]coordinator.MintClient, 0, len(cfg.Coordinator.Members))
	for _, m := range cfg.Coordinator.Members {
		c, err := transport.NewClient(host, m.Index, m.Addr)
		if err != nil {
			host.Close()
			return nil, nil, err
		}
		clients = append(clients, c)
	}
	coord, err := coordinator.New(cfg.CoordinatorPolicy(), pks, clients, logger)
	if err != nil {
		host.Close()
		return nil, nil, err
	}
	return coord, host, nil
}

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Ask the mint group to issue the genesis DBC",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		if cfg.Mint.GenesisAmount == 0 {
			return errors.New("mint.genesisAmount is not set")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		proofs, err := rangeProofs(cfg, false)
		if err != nil {
			return err
		}
		coord, host, err := dialGroup(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer host.Close()

		material, err := dbc.NewGenesisMaterial(cfg.Mint.GenesisAmount, proofs)
		if err != nil {
			return err
		}
		bundle, err := coord.IssueGenesis(ctx, material)
		if err != nil {
			return err
		}
		if err := os.WriteFile(genesisOut, dbc.EncodeBundle(bundle), 0o600); err != nil {
			return errors.Wrap(err, "write genesis bundle")
		}
		fmt.Printf("genesis %s written to %s\n", bundle.DBC.ID(), genesisOut)
		return nil
	},
}

var spentCmd = &cobra.Command{
	Use:   "spent <key-image-hex>",
	Short: "Fetch a spent certificate for a key image from the mint group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := hex.DecodeString(args[0])
		if err != nil {
			return errors.Wrap(err, "key image")
		}
		ki, err := zkp.KeyImageFromBytes(raw)
		if err != nil {
			return err
		}

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		coord, host, err := dialGroup(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer host.Close()

		cert, err := coord.SpentCertificate(ctx, ki)
		if err != nil {
			return err
		}
		if cert == nil {
			fmt.Println("not spent at a quorum of mints")
			return nil
		}
		fmt.Printf("spent by transaction %s\n", cert.Content.TransactionHash)
		fmt.Println(hex.EncodeToString(dbc.EncodeSpentCertificate(cert)))
		return nil
	},
}

func init() {
	genesisCmd.Flags().StringVarP(&genesisOut, "out", "o", "genesis.dbc", "bundle output file")
}
