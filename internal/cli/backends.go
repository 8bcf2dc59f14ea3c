package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"xdao.co/keycircle/storage/registry"
)

func NewBackendsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the storage backends this binary supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			type backend struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			var out []backend
			for _, b := range registry.List(registry.UsageCLI) {
				out = append(out, backend{Name: b.Name, Description: b.Description})
			}
			return rootOpts.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
				for _, b := range out {
					_, _ = fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Description)
				}
			})
		},
	}
}
