package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kreezus/yengapay-bridge/gateway"
	"github.com/kreezus/yengapay-bridge/internal/mask"
	"github.com/kreezus/yengapay-bridge/internal/webhook"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "yengapay",
		Short:   "YengaPay payment bridge for the shop",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (env vars override it)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(webhookURLCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*gateway.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return gateway.LoadConfig(path)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the checkout and webhook HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := gateway.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}

			app := gateway.NewApp(logger, cfg)
			if err := app.Start(); err != nil {
				return fmt.Errorf("starting app: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			app.Shutdown()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the shop schema in Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DBDSN == "" {
				return fmt.Errorf("DB_DSN is required")
			}
			db, err := sql.Open("postgres", cfg.DBDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := gateway.NewPGRepository(db).Migrate(context.Background()); err != nil {
				return fmt.Errorf("migrating: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the X-Webhook-Hash for a payload, for replaying notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			if secret == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				secret = cfg.WebhookSecret
			}
			if secret == "" {
				return webhook.ErrUnconfigured
			}

			file, _ := cmd.Flags().GetString("file")
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			body, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign(body, secret))
			return nil
		},
	}

	cmd.Flags().StringP("secret", "s", "", "webhook secret (defaults to the configured one)")
	cmd.Flags().StringP("file", "f", "-", "payload file, - for stdin")

	return cmd
}

func webhookURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "webhook-url",
		Short: "Show the webhook URL to register in the YengaPay dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Webhook URL: %s\n", cfg.WebhookURL())
			fmt.Fprintf(out, "API key:     %s\n", mask.Secret(cfg.APIKey))
			if missing := cfg.MissingSettings(); len(missing) > 0 {
				fmt.Fprintf(out, "Missing:     %v\n", missing)
			}
			return nil
		},
	}
}
