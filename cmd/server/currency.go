package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sheikh-saqib/currency-ledger/internal/config"
	"github.com/sheikh-saqib/currency-ledger/internal/models"
)

var currencyCmd = &cobra.Command{
	Use:   "currency",
	Short: "Manage configured currencies",
}

var (
	addName        string
	addSymbol      string
	addFormat      string
	addLeaderboard bool
	addAutoGrant   bool
	addDefault     string
	removeData     bool
)

var currencyAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add a currency to the table and to storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(addDefault)
		if err != nil {
			return fmt.Errorf("invalid default amount %q: %w", addDefault, err)
		}
		c := models.Currency{
			ID:            args[0],
			Name:          addName,
			Symbol:        addSymbol,
			Format:        addFormat,
			Leaderboard:   addLeaderboard,
			AutoGrant:     addAutoGrant,
			DefaultAmount: amount,
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		if rt.currencies.Exists(c.ID) {
			_ = rt.close(cmd.Context())
			return fmt.Errorf("currency %q already exists", c.ID)
		}
		if _, err := rt.manager.AddCurrency(cmd.Context(), c).Await(cmd.Context()); err != nil {
			_ = rt.close(cmd.Context())
			return err
		}
		if err := config.WriteCurrencies(rt.cfg.CurrenciesFile, rt.manager.Currencies()); err != nil {
			_ = rt.close(cmd.Context())
			return err
		}
		rt.logger.Info("currency added", "currency", c.ID)
		return rt.close(cmd.Context())
	},
}

var currencyRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a currency from the table, optionally purging stored balances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		if !rt.currencies.Exists(id) {
			_ = rt.close(cmd.Context())
			return fmt.Errorf("currency %q does not exist", id)
		}
		if _, err := rt.manager.RemoveCurrency(cmd.Context(), id, removeData).Await(cmd.Context()); err != nil {
			_ = rt.close(cmd.Context())
			return err
		}
		if err := config.WriteCurrencies(rt.cfg.CurrenciesFile, rt.manager.Currencies()); err != nil {
			_ = rt.close(cmd.Context())
			return err
		}
		rt.logger.Info("currency removed", "currency", id, "delete_data", removeData)
		return rt.close(cmd.Context())
	},
}

func init() {
	currencyAddCmd.Flags().StringVar(&addName, "name", "", "display name")
	currencyAddCmd.Flags().StringVar(&addSymbol, "symbol", "", "symbol substituted for %symbol%")
	currencyAddCmd.Flags().StringVar(&addFormat, "format", "%symbol%%amount%", "format template")
	currencyAddCmd.Flags().BoolVar(&addLeaderboard, "leaderboard", false, "show on leaderboards")
	currencyAddCmd.Flags().BoolVar(&addAutoGrant, "auto-grant", false, "grant the default amount on first join")
	currencyAddCmd.Flags().StringVar(&addDefault, "default-amount", "0", "auto-grant amount")
	currencyRemoveCmd.Flags().BoolVar(&removeData, "delete-data", false, "purge stored balances for the currency")
	currencyCmd.AddCommand(currencyAddCmd, currencyRemoveCmd)
}
