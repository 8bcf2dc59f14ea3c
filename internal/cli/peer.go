package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"xdao.co/keycircle/keys"
	"xdao.co/keycircle/model"
	"xdao.co/keycircle/peer"
	"xdao.co/keycircle/plist"
)

// NewPeerCommand creates the peer command group. Every subcommand except
// init operates on a handle file written by init.
func NewPeerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Create and update signed peer identities",
	}
	cmd.AddCommand(newPeerInitCommand(rootOpts))
	cmd.AddCommand(newPeerShowCommand(rootOpts))
	cmd.AddCommand(peerUpdate(rootOpts, "set-device-id <handle> <id>", "Set the device ID", 2,
		func(h *peer.Handle, args []string) (string, error) {
			return "", h.SetDeviceID(args[1])
		}))
	cmd.AddCommand(newPeerViewCommand(rootOpts))
	cmd.AddCommand(newPeerPropertyCommand(rootOpts))
	cmd.AddCommand(peerUpdate(rootOpts, "reconcile <handle>", "Apply the configured identity policy", 1,
		func(h *peer.Handle, args []string) (string, error) {
			res, err := h.Reconcile(rootOpts.cfg.Policy.Peer())
			return res.String(), err
		}))
	cmd.AddCommand(peerUpdate(rootOpts, "upgrade <handle>", "Re-sign a legacy identity with the current hash", 1,
		func(h *peer.Handle, args []string) (string, error) {
			return "", h.UpgradeSignatures()
		}))
	cmd.AddCommand(peerUpdate(rootOpts, "ping <handle>", "Refresh the liveness nonce", 1,
		func(h *peer.Handle, args []string) (string, error) {
			return "", h.RefreshPing()
		}))
	cmd.AddCommand(newPeerPromoteCommand(rootOpts))
	cmd.AddCommand(newPeerRetireCommand(rootOpts))
	return cmd
}

func newPeerInitCommand(rootOpts *RootOptions) *cobra.Command {
	var keyFP, name, modelName string
	var force bool
	cmd := &cobra.Command{
		Use:   "init <handle>",
		Short: "Sign a fresh application identity and write its handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyFP == "" || name == "" || modelName == "" {
				return NewExitError(ExitCommandError, "--key, --name and --model are required")
			}
			if _, err := os.Stat(args[0]); err == nil && !force {
				return NewExitError(ExitCommandError, args[0]+" exists (use --force)")
			}
			ks, err := rootOpts.keyStore()
			if err != nil {
				return err
			}
			k, err := ks.Load(keyFP)
			if err != nil {
				return WrapExitError(ExitFailure, "load key "+keyFP, err)
			}
			g := plist.Dict{"ComputerName": plist.String(name), "ModelName": plist.String(modelName)}
			h, err := peer.NewHandle(g, k, ks)
			if err != nil {
				return err
			}
			if err := writeHandle(args[0], h); err != nil {
				return err
			}
			return rootOpts.showIdentity(cmd.OutOrStdout(), h.Identity())
		},
	}
	cmd.Flags().StringVar(&keyFP, "key", "", "fingerprint of the device signing key")
	cmd.Flags().StringVar(&name, "name", "", "ComputerName gestalt value")
	cmd.Flags().StringVar(&modelName, "model", "", "ModelName gestalt value")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing handle file")
	return cmd
}

func newPeerShowCommand(rootOpts *RootOptions) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "show <handle>",
		Short: "Verify and print an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := rootOpts.keyStore()
			if err != nil {
				return err
			}
			h, err := readHandle(args[0], ks)
			if err != nil {
				return err
			}
			id := h.Identity()
			if group != "" {
				gk, err := keys.ParsePublicKey(group)
				if err != nil {
					return WrapExitError(ExitCommandError, "--group", err)
				}
				err = id.VerifyMember(gk)
				if err != nil {
					return err
				}
			} else if err := id.Verify(); err != nil {
				return err
			}
			return rootOpts.showIdentity(cmd.OutOrStdout(), id)
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group public key (alg:base64); also checks membership")
	return cmd
}

func newPeerViewCommand(rootOpts *RootOptions) *cobra.Command {
	var disable bool
	cmd := peerUpdate(rootOpts, "view <handle> <view>", "Enable or disable a view", 2,
		func(h *peer.Handle, args []string) (string, error) {
			res, err := h.UpdateView(args[1], !disable)
			if err == nil && res == peer.NoSuchView {
				return res.String(), NewExitError(ExitCommandError, fmt.Sprintf("unknown view %q (known: %s)", args[1], strings.Join(peer.KnownViews, ", ")))
			}
			return res.String(), err
		})
	cmd.Flags().BoolVar(&disable, "disable", false, "disable instead of enable")
	return cmd
}

func newPeerPropertyCommand(rootOpts *RootOptions) *cobra.Command {
	var disable bool
	cmd := peerUpdate(rootOpts, "property <handle> <property>", "Enable or disable a security property", 2,
		func(h *peer.Handle, args []string) (string, error) {
			res, err := h.UpdateSecurityProperty(args[1], !disable)
			if err == nil && res == peer.NoSuchSecurityProperty {
				return res.String(), NewExitError(ExitCommandError, fmt.Sprintf("unknown security property %q", args[1]))
			}
			return res.String(), err
		})
	cmd.Flags().BoolVar(&disable, "disable", false, "disable instead of enable")
	return cmd
}

func newPeerPromoteCommand(rootOpts *RootOptions) *cobra.Command {
	var group string
	cmd := peerUpdate(rootOpts, "promote <handle>", "Make the identity a circle member endorsed by the group key", 1,
		func(h *peer.Handle, args []string) (string, error) {
			if group == "" {
				return "", NewExitError(ExitCommandError, "--group is required")
			}
			ks, err := rootOpts.keyStore()
			if err != nil {
				return "", err
			}
			gk, err := ks.Load(group)
			if err != nil {
				return "", WrapExitError(ExitFailure, "load group key", err)
			}
			return "", h.Promote(gk)
		})
	cmd.Flags().StringVar(&group, "group", "", "fingerprint of the stored group key")
	return cmd
}

func newPeerRetireCommand(rootOpts *RootOptions) *cobra.Command {
	var marker string
	cmd := peerUpdate(rootOpts, "retire <handle>", "Retire the identity and write the signed retirement marker", 1,
		func(h *peer.Handle, args []string) (string, error) {
			if marker == "" {
				return "", NewExitError(ExitCommandError, "--marker is required")
			}
			rt, err := h.Retire()
			if err != nil {
				return "", err
			}
			der, err := rt.Encode()
			if err != nil {
				return "", err
			}
			return "", writeFileAtomic(marker, der)
		})
	cmd.Flags().StringVar(&marker, "marker", "", "output path for the retirement marker")
	return cmd
}

// peerUpdate builds a subcommand that loads a handle, runs update and writes
// the handle back only when the identity changed.
func peerUpdate(rootOpts *RootOptions, use, short string, nargs int, update func(h *peer.Handle, args []string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := rootOpts.keyStore()
			if err != nil {
				return err
			}
			h, err := readHandle(args[0], ks)
			if err != nil {
				return err
			}
			before := h.Identity()
			result, err := update(h, args)
			if err != nil {
				return err
			}
			if !h.Identity().Equal(before) {
				if err := writeHandle(args[0], h); err != nil {
					return err
				}
			}
			rootOpts.log.Debug("peer update", "command", cmd.Name(), "result", result, "serial", h.Identity().Serial())
			return rootOpts.showIdentity(cmd.OutOrStdout(), h.Identity())
		},
	}
}

func (o *RootOptions) showIdentity(w io.Writer, id *peer.Identity) error {
	info := model.FromIdentity(id)
	return o.emit(w, info, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "fingerprint %s\n", info.Fingerprint)
		_, _ = fmt.Fprintf(w, "role        %s\n", info.Role)
		_, _ = fmt.Fprintf(w, "serial      %d\n", info.Serial)
		_, _ = fmt.Fprintf(w, "version     %d (%s)\n", info.Version, info.HashAlg)
		if info.DeviceID != "" {
			_, _ = fmt.Fprintf(w, "device-id   %s\n", info.DeviceID)
		}
		if len(info.Views) > 0 {
			_, _ = fmt.Fprintf(w, "views       %s\n", strings.Join(info.Views, ","))
		}
		if len(info.SecurityProperties) > 0 {
			_, _ = fmt.Fprintf(w, "properties  %s\n", strings.Join(info.SecurityProperties, ","))
		}
		_, _ = fmt.Fprintf(w, "digest      %s\n", info.Digest)
	})
}

func readHandle(path string, ks peer.KeyStore) (*peer.Handle, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "read handle", err)
	}
	h, err := peer.DecodeHandle(b, ks)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "decode "+path, err)
	}
	return h, nil
}

func writeHandle(path string, h *peer.Handle) error {
	der, err := h.Encode()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, der)
}

func writeFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("install %s: %w", path, err)
	}
	return nil
}
