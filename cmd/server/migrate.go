package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the ledger table and one column per configured currency",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		rt.logger.Info("schema is up to date", "storage", rt.kind, "currencies", rt.currencies.IDs())
		return rt.close(cmd.Context())
	},
}
