package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alovak/cardflow-checkout/checkout"
	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	Version    = "dev"
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "checkout",
		Short:   "Checkout payment authorization service",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "", "path to YAML config; environment variables override it")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(authorizeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := checkout.LoadConfig(configPath)
			if err != nil {
				return err
			}

			app := checkout.NewApp(newLogger(), cfg)
			if err := app.Start(); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			app.Shutdown()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the store schema and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := checkout.LoadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			components, err := checkout.Build(ctx, newLogger(), cfg)
			if err != nil {
				return err
			}
			defer components.Close(ctx)

			switch s := components.Store.(type) {
			case *checkout.Repository:
				err = s.Migrate(ctx)
			case *checkout.MongoStore:
				err = s.EnsureIndexes(ctx)
			}
			if err != nil {
				return err
			}

			fmt.Println("store migrated")
			return nil
		},
	}
}

func authorizeCmd() *cobra.Command {
	var (
		req      models.CCPayment
		token    string
		merchant string
	)

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Reconcile the credit card authorization of one order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := checkout.LoadConfig(configPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			components, err := checkout.Build(ctx, newLogger(), cfg)
			if err != nil {
				return err
			}
			defer components.Close(context.Background())

			payment, err := components.Reconciler.AuthorizePayment(ctx, req, token, merchant)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(payment)
		},
	}

	cmd.Flags().StringVar(&req.OrderID, "order", "", "order ID")
	cmd.Flags().StringVar(&req.CreditCardID, "card", "", "saved credit card ID")
	cmd.Flags().StringVar(&req.CVV, "cvv", "", "card security code")
	cmd.Flags().StringVar(&token, "token", "", "buyer access token")
	cmd.Flags().StringVar(&merchant, "merchant", "", "merchant ID override")
	cmd.MarkFlagRequired("order")

	return cmd
}
