package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ccoin/dbc/internal/bls"
	"github.com/ccoin/dbc/internal/config"
	"github.com/ccoin/dbc/internal/zkp"
)

var (
	keygenThreshold int
	keygenMembers   int
	keygenOut       string
	keygenGroth16   bool
)

// keygenCmd is a trusted dealer: it sees the master secret while splitting
// it, so it must run offline and its output be distributed by hand.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Split a fresh mint key into threshold shares",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := bls.ValidateGroup(keygenThreshold, keygenMembers); err != nil {
			return err
		}
		set, err := bls.NewSecretKeySet(keygenThreshold)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(keygenOut, 0o700); err != nil {
			return errors.Wrap(err, "create output directory")
		}

		pks := set.PublicKeySet()
		for i := 0; i < keygenMembers; i++ {
			share, err := set.SecretKeyShare(i)
			if err != nil {
				return err
			}
			path := filepath.Join(keygenOut, fmt.Sprintf("mint-%d.keyshare.yaml", i))
			if err := config.SaveKeyShare(path, share, pks); err != nil {
				return err
			}
			fmt.Println("wrote", path)
		}
		fmt.Println("group public key", pks.PublicKey())

		if keygenGroth16 {
			cm := zkp.NewCircuitManager()
			if err := cm.Setup(); err != nil {
				return errors.Wrap(err, "groth16 setup")
			}
			dir := filepath.Join(keygenOut, "circuit")
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return errors.Wrap(err, "create circuit directory")
			}
			if err := cm.SaveKeys(dir); err != nil {
				return err
			}
			fmt.Println("wrote range circuit keys to", dir)
		}
		return nil
	},
}

func init() {
	keygenCmd.Flags().IntVarP(&keygenThreshold, "threshold", "t", 2, "shares needed to sign")
	keygenCmd.Flags().IntVarP(&keygenMembers, "members", "n", 3, "number of mints")
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "keys", "output directory")
	keygenCmd.Flags().BoolVar(&keygenGroth16, "groth16", false, "also run the groth16 range circuit setup")
}
