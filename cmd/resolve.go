package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Print the newest procurement resource id",
		Long: `Searches the portal catalogue for procurement datasets and prints the
id of the newest usable resource. Set portal.resource_id to "latest" to do
this automatically on every run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Resolver().Latest(cmd.Context())
			if err != nil {
				return fmt.Errorf("resolve resource: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", res.ID, res.Format, res.Package, res.Name)
			return err
		},
	}
}
