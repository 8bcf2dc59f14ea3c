package cli

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"xdao.co/keycircle/keys"
)

type keyInfo struct {
	Fingerprint string `json:"fingerprint"`
	PublicKey   string `json:"publicKey"`
}

func printKey(w io.Writer, k keyInfo) { _, _ = fmt.Fprintf(w, "%s\t%s\n", k.Fingerprint, k.PublicKey) }

// NewKeyCommand creates the key command group.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage device signing keys",
	}
	cmd.AddCommand(newKeyGenerateCommand(rootOpts))
	cmd.AddCommand(newKeyDeriveCommand(rootOpts))
	cmd.AddCommand(newKeyListCommand(rootOpts))
	cmd.AddCommand(newKeyDeleteCommand(rootOpts))
	return cmd
}

func newKeyGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	var alg, seedHex string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create and store a new signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				k   *keys.PrivateKey
				err error
			)
			if seedHex != "" {
				seed, perr := keys.ParseSeedHex(seedHex)
				if perr != nil {
					return WrapExitError(ExitCommandError, "--seed-hex", perr)
				}
				k, err = keys.FromSeed(keys.Alg(alg), seed)
			} else {
				k, err = keys.Generate(keys.Alg(alg), rand.Reader)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "generate key", err)
			}
			return rootOpts.storeKey(cmd, k)
		},
	}
	cmd.Flags().StringVar(&alg, "alg", string(keys.AlgEd25519), "key algorithm (ed25519|dilithium3)")
	cmd.Flags().StringVar(&seedHex, "seed-hex", "", "32-byte seed as 64 hex chars (default: random)")
	return cmd
}

func newKeyDeriveCommand(rootOpts *RootOptions) *cobra.Command {
	var from, role, alg string
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a role key (e.g. the circle group key) from a stored key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || role == "" {
				return NewExitError(ExitCommandError, "--from and --role are required")
			}
			ks, err := rootOpts.keyStore()
			if err != nil {
				return err
			}
			root, err := ks.Load(from)
			if err != nil {
				return WrapExitError(ExitFailure, "load "+from, err)
			}
			if alg == "" {
				alg = string(root.Alg())
			}
			seed, err := keys.DeriveRoleSeed(root.Seed(), role)
			if err != nil {
				return WrapExitError(ExitCommandError, "derive", err)
			}
			k, err := keys.FromSeed(keys.Alg(alg), seed)
			if err != nil {
				return WrapExitError(ExitCommandError, "derive", err)
			}
			return rootOpts.storeKey(cmd, k)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "fingerprint of the root key")
	cmd.Flags().StringVar(&role, "role", "", "role label, e.g. circle-group")
	cmd.Flags().StringVar(&alg, "alg", "", "algorithm of the derived key (default: same as root)")
	return cmd
}

func (o *RootOptions) storeKey(cmd *cobra.Command, k *keys.PrivateKey) error {
	ks, err := o.keyStore()
	if err != nil {
		return err
	}
	if _, err := ks.PersistReference(k); err != nil {
		return WrapExitError(ExitFailure, "store key", err)
	}
	info := keyInfo{Fingerprint: k.Public().Fingerprint(), PublicKey: k.Public().String()}
	o.log.Debug("key stored", "fingerprint", info.Fingerprint, "dir", ks.Directory)
	return o.emit(cmd.OutOrStdout(), info, func(w io.Writer) { printKey(w, info) })
}

func newKeyListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := rootOpts.keyStore()
			if err != nil {
				return err
			}
			pubs, err := ks.List()
			if err != nil {
				return err
			}
			infos := make([]keyInfo, 0, len(pubs))
			for _, p := range pubs {
				infos = append(infos, keyInfo{Fingerprint: p.Fingerprint(), PublicKey: p.String()})
			}
			return rootOpts.emit(cmd.OutOrStdout(), infos, func(w io.Writer) {
				for _, k := range infos {
					printKey(w, k)
				}
			})
		},
	}
}

func newKeyDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <fingerprint>",
		Short: "Delete a stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := rootOpts.keyStore()
			if err != nil {
				return err
			}
			if err := ks.Delete(args[0]); err != nil {
				return WrapExitError(ExitFailure, "delete "+args[0], err)
			}
			return nil
		},
	}
}
