package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"xdao.co/keycircle/datastore"
	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/model"
	"xdao.co/keycircle/plist"
)

// NewItemCommand creates the item command group.
func NewItemCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Insert and inspect keychain items",
	}
	cmd.AddCommand(newItemPutCommand(rootOpts))
	cmd.AddCommand(newItemGetCommand(rootOpts))
	return cmd
}

type putResult struct {
	Outcome  string         `json:"outcome"`
	Item     model.ItemInfo `json:"item"`
	Manifest string         `json:"manifest"`
}

func newItemPutCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		class, acct, svce, srvr, labl, typ, data string
		mtime                                    int64
	)
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Merge an item into the store",
		Long: `Merge an item into the content store loaded from the configured backends.

The item wins over an existing item with the same primary key only if it is
newer, or equally new with a smaller content digest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs := plist.Dict{item.AttrClass: plist.String(class)}
			for k, v := range map[string]string{
				item.AttrAccount: acct,
				item.AttrService: svce,
				item.AttrServer:  srvr,
				item.AttrLabel:   labl,
				item.AttrType:    typ,
			} {
				if v != "" {
					attrs[k] = plist.String(v)
				}
			}
			if mtime == 0 {
				mtime = time.Now().Unix()
			}
			attrs[item.AttrModified] = plist.Date(time.Unix(mtime, 0))
			attrs[item.AttrData] = plist.Data([]byte(data))
			obj, err := item.New(attrs)
			if err != nil {
				return WrapExitError(ExitCommandError, "build item", err)
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
			out, err := s.InsertOrMerge(obj)
			if err != nil {
				return err
			}
			m, err := datastore.Save(s, objs)
			if err != nil {
				return err
			}
			res := putResult{Outcome: out.String(), Item: model.FromObject(obj), Manifest: m.Digest().Hex()}
			return rootOpts.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", res.Outcome, res.Item.Digest)
			})
		},
	}
	cmd.Flags().StringVar(&class, "class", "genp", "item class (genp|inet|cert|keys)")
	cmd.Flags().StringVar(&acct, "acct", "", "account")
	cmd.Flags().StringVar(&svce, "svce", "", "service")
	cmd.Flags().StringVar(&srvr, "srvr", "", "server")
	cmd.Flags().StringVar(&labl, "labl", "", "label")
	cmd.Flags().StringVar(&typ, "type", "", "key type")
	cmd.Flags().StringVar(&data, "data", "", "secret payload")
	cmd.Flags().Int64Var(&mtime, "mtime", 0, "modification time, unix seconds (default: now)")
	return cmd
}

func newItemGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <digest>",
		Short: "Fetch one stored item by content digest (hex or CID)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := digest.Parse(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "parse digest", err)
			}
			objs, closeFn, err := rootOpts.openObjects()
			if err != nil {
				return err
			}
			defer closeFn()
			obj, err := objs.Get(d)
			if err != nil {
				return err
			}
			info := model.FromObject(obj)
			return rootOpts.emit(cmd.OutOrStdout(), info, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "digest   %s\nclass    %s\naccount  %s\nservice  %s\nmodified %s\n",
					info.Digest, info.Class, info.Account, info.Service, info.Modified)
			})
		},
	}
}
