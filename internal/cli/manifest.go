package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"xdao.co/keycircle/datastore"
	"xdao.co/keycircle/model"
	"xdao.co/keycircle/storage/bundle"
	"xdao.co/keycircle/storage/localfs"
)

// NewManifestCommand creates the manifest command group.
func NewManifestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Build, export and import item manifests",
	}
	cmd.AddCommand(newManifestShowCommand(rootOpts))
	cmd.AddCommand(newManifestExportCommand(rootOpts))
	cmd.AddCommand(newManifestImportCommand(rootOpts))
	return cmd
}

func newManifestShowCommand(rootOpts *RootOptions) *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the manifest of the current item set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			objs, closeFn, err := rootOpts.openObjects()
			if err != nil {
				return err
			}
			defer closeFn()
			s, err := rootOpts.loadStore(objs)
			if err != nil {
				return err
			}
			mv := model.FromManifest(view, s.BuildManifest(view))
			return rootOpts.emit(cmd.OutOrStdout(), mv, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", mv.View, mv.Count, mv.Digest)
				for _, e := range mv.Entries {
					_, _ = fmt.Fprintf(w, "  %s\n", e.Digest)
				}
			})
		},
	}
	cmd.Flags().StringVar(&view, "view", datastore.DefaultView, "view to build")
	return cmd
}

func newManifestExportCommand(rootOpts *RootOptions) *cobra.Command {
	var view string
	var index bool
	cmd := &cobra.Command{
		Use:   "export <bundle.tar>",
		Short: "Write the current item set as a deterministic tar bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objs, closeFn, err := rootOpts.openObjects()
			if err != nil {
				return err
			}
			defer closeFn()
			s, err := rootOpts.loadStore(objs)
			if err != nil {
				return err
			}
			m := s.BuildManifest(view)

			f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
			if err != nil {
				return WrapExitError(ExitCommandError, "create bundle", err)
			}
			if err := bundle.Export(f, objs, m, bundle.ExportOptions{View: view, IncludeIndex: index}); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			mv := model.FromManifest(view, m)
			return rootOpts.emit(cmd.OutOrStdout(), mv, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", mv.View, mv.Count, mv.Digest)
			})
		},
	}
	cmd.Flags().StringVar(&view, "view", datastore.DefaultView, "view to export")
	cmd.Flags().BoolVar(&index, "index", true, "include index.json")
	return cmd
}

func newManifestImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <bundle.tar>",
		Short: "Merge a peer's bundle into the local item set",
		Long: `Merge a peer's bundle into the local item set.

Bundle objects are staged in a temporary directory and merged in manifest
order; only the merge winners are written to the configured backends.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "open bundle", err)
			}
			defer f.Close()

			dir, err := os.MkdirTemp("", "keycircle-import-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)
			staging, err := localfs.New(dir)
			if err != nil {
				return err
			}
			remote, err := bundle.ImportWithOptions(f, staging, bundle.ImportOptions{IgnoreUnknown: true})
			if err != nil {
				return WrapExitError(ExitFailure, "import bundle", err)
			}

			objs, closeFn, err := rootOpts.openObjects()
			if err != nil {
				return err
			}
			defer closeFn()
			s, err := rootOpts.loadStore(objs)
			if err != nil {
				return err
			}
			report, err := datastore.Hydrate(s, remote, staging)
			if err != nil {
				return err
			}
			local, err := datastore.Save(s, objs)
			if err != nil {
				return err
			}
			mr := model.FromHydrateReport(report, local)
			rootOpts.log.Info("bundle merged", "remote", remote.Len(), "outcomes", mr.Outcomes)
			return rootOpts.emit(cmd.OutOrStdout(), mr, func(w io.Writer) {
				for _, name := range []string{"Created", "KeptLocal", "AcceptedRemote", "AcceptedMerged"} {
					_, _ = fmt.Fprintf(w, "%-15s %d\n", name, mr.Outcomes[name])
				}
				_, _ = fmt.Fprintf(w, "%-15s %d\n", "Rejected", len(mr.Rejected))
				_, _ = fmt.Fprintf(w, "manifest        %s\n", mr.Manifest)
			})
		},
	}
}
