// Package cli implements the keycircle command tree.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"xdao.co/keycircle/config"
	"xdao.co/keycircle/datastore"
	"xdao.co/keycircle/keys"
	"xdao.co/keycircle/storage"
	"xdao.co/keycircle/storage/registry"

	_ "xdao.co/keycircle/storage/grpcobj"
	_ "xdao.co/keycircle/storage/localfs"
	_ "xdao.co/keycircle/storage/sqlitestore"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	KeyDir     string
	Backend    string
	Verbose    bool
	Format     string // "json" | "text"

	cfg config.Config
	log *slog.Logger
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the keycircle CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "keycircle",
		Short:         "Peer identities and keychain item sync",
		Long:          "Manage signed peer identities, device keys and the content-addressed keychain item store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.KeyDir, "key-dir", "", "key directory (overrides key_dir)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "preferred storage backend name or id")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewKeyCommand(opts))
	cmd.AddCommand(NewPeerCommand(opts))
	cmd.AddCommand(NewItemCommand(opts))
	cmd.AddCommand(NewManifestCommand(opts))
	cmd.AddCommand(NewBackendsCommand(opts))

	return cmd
}

func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if o.ConfigPath == "" {
		o.cfg = config.Default()
		return nil
	}
	cfg, err := config.LoadFile(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	o.cfg = cfg
	o.log.Debug("config loaded", "path", o.ConfigPath, "backends", len(cfg.Storage.Backends))
	return nil
}

func (o *RootOptions) keyStore() (*keys.FileStore, error) {
	dir := o.KeyDir
	if dir == "" {
		dir = o.cfg.KeyDir
	}
	return keys.NewFileStore(dir)
}

func (o *RootOptions) openObjects() (storage.ObjectStore, func() error, error) {
	s, closeFn, err := o.cfg.Storage.Open(registry.UsageCLI, o.Backend)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open storage", err)
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return s, closeFn, nil
}

// loadStore builds a content store from everything objs holds.
func (o *RootOptions) loadStore(objs storage.ObjectStore) (*datastore.Store, error) {
	s := datastore.New(datastore.WithViews(o.cfg.Views...), datastore.WithLogger(o.log))
	report, err := datastore.Load(s, objs)
	if err != nil {
		return nil, err
	}
	o.log.Debug("store loaded", "objects", s.Len(), "rejected", len(report.Rejected), "missing", len(report.Missing))
	return s, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
