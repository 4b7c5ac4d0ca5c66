package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xtxerr/kepsync/internal/loader"
)

func newCheckCmd() *cobra.Command {
	var deep bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the server connection, credentials and installed drivers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loader.ValidateConnection(cfg); err != nil {
				return err
			}
			s, err := newStack(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := s.client.TestConnection(ctx); err != nil {
				return fmt.Errorf("connect to %s: %w", s.transport.BaseURL(), err)
			}
			info, err := s.client.ProductInfo(ctx)
			if err != nil {
				return err
			}
			drivers, err := s.catalog.Drivers(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server:   %s\n", s.transport.BaseURL())
			fmt.Fprintf(out, "Product:  %s %s (%s)\n", info.ProductName, info.ProductVersion, info.ProductID)
			fmt.Fprintf(out, "Drivers:  %d installed\n", len(drivers))
			for _, d := range drivers {
				fmt.Fprintf(out, "  - %s\n", d)
			}

			if !deep {
				return nil
			}
			project, err := s.client.LoadProjectDeep(ctx)
			if err != nil {
				return fmt.Errorf("load project: %w", err)
			}
			fmt.Fprintln(out)
			printInventory(out, countEntities(project))
			return nil
		},
	}

	cmd.Flags().BoolVar(&deep, "deep", false, "load the whole remote project and print entity counts")
	return cmd
}
