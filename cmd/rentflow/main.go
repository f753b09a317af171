// Command rentflow runs the rent payment service: the HTTP API, the gateway
// webhooks and the periodic rent evaluator.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/rentflow/internal/activity"
	"github.com/matthewbaird/rentflow/internal/auth"
	"github.com/matthewbaird/rentflow/internal/config"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/eventbus"
	"github.com/matthewbaird/rentflow/internal/gateway"
	"github.com/matthewbaird/rentflow/internal/handler"
	"github.com/matthewbaird/rentflow/internal/reconcile"
	"github.com/matthewbaird/rentflow/internal/rent"
	"github.com/matthewbaird/rentflow/internal/seed"
	"github.com/matthewbaird/rentflow/internal/server"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
	"github.com/matthewbaird/rentflow/internal/worker"
)

var Version = "dev"

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "rentflow",
		Short:         "Rent payment lifecycle and gateway reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("RENTFLOW_CONFIG"), "CUE config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(evaluateCmd(&configPath))
	rootCmd.AddCommand(seedCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("rentflow: %v", err)
	}
}

// app is the wired service shared by the commands.
type app struct {
	cfg      *config.Config
	store    *store.Store
	activity *activity.SQLStore
	recorder *event.ActivityRecorder
	rent     *rent.Service
}

func open(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: s, activity: activity.NewSQLStore(s.Driver())}
	a.recorder = event.NewActivityRecorder(a.activity)
	a.rent = rent.New(s, a.recorder, rent.Options{
		LateFeePolicy:           cfg.LateFeePolicy(),
		AgencyFeeMonths:         cfg.Rent.AgencyFeeMonths,
		UpcomingWindowDays:      cfg.Rent.UpcomingWindowDays,
		SubscriptionWarningDays: cfg.Rent.SubscriptionWarningDays,
	})
	return a, nil
}

func (a *app) migrate(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	if err := a.activity.CreateTable(ctx); err != nil {
		return fmt.Errorf("creating activity table: %w", err)
	}
	return nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the rent evaluator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := open(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := a.migrate(ctx); err != nil {
				return err
			}
			log.Println("database migrated successfully")

			hub := eventbus.NewHub()
			bus := eventbus.New(256)
			bus.Subscribe("log", eventbus.NewLogConsumer())
			bus.Subscribe("hub", hub)
			bus.Start(ctx)
			defer bus.Stop()
			a.recorder.SetPublisher(bus)

			if a.cfg.Evaluator.Enabled {
				go worker.NewEvaluator(a.store, a.rent, a.cfg.EvaluatorInterval()).Run(ctx)
			}

			gw := a.cfg.Gateways
			orange := gateway.NewOrangeMoney(gw.OrangeMoney.Adapter())
			paydunya := gateway.NewPayDunya(gw.PayDunya.Adapter())
			signup := gateway.NewSignupCheckout(gw.Signup.Adapter())
			opts := reconcile.Options{
				MaxBody:         a.cfg.Webhook.MaxBodyBytes,
				SignupDays:      a.cfg.Webhook.SignupDays,
				DefaultPlanDays: a.cfg.Webhook.DefaultPlanDays,
			}

			h := server.NewRouter(server.Deps{
				Store:    a.store,
				Rent:     a.rent,
				Activity: a.activity,
				Hub:      hub,
				JWT:      auth.NewJWTService(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, a.cfg.TokenTTL()),
				Webhooks: server.Webhooks{
					OrangeMoney: reconcile.New(orange, a.store, a.recorder, opts),
					PayDunya:    reconcile.New(paydunya, a.store, a.recorder, opts),
					Signup:      reconcile.New(signup, a.store, a.recorder, opts),
				},
				Checkouts:   server.Checkouts{OrangeMoney: orange, PayDunya: paydunya, Signup: signup},
				Functions:   handler.FunctionsOptions{SignupAmount: a.cfg.Webhook.SignupAmount},
				CORSOrigins: a.cfg.Server.CORSOrigins,
			})
			return server.Run(ctx, server.Config{
				Port:            a.cfg.Server.Port,
				ShutdownTimeout: a.cfg.ShutdownTimeout(),
			}, h)
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()
			if err := a.migrate(cmd.Context()); err != nil {
				return err
			}
			log.Println("database migrated successfully")
			return nil
		},
	}
}

func evaluateCmd(configPath *string) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one rent evaluation pass over every agency",
		RunE: func(cmd *cobra.Command, args []string) error {
			day := types.Today()
			if asOf != "" {
				d, err := types.ParseDate(asOf)
				if err != nil {
					return fmt.Errorf("--as-of: %w", err)
				}
				day = d
			}
			a, err := open(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()
			if err := a.migrate(cmd.Context()); err != nil {
				return err
			}
			ev, err := worker.NewEvaluator(a.store, a.rent, a.cfg.EvaluatorInterval()).RunOnce(cmd.Context(), day)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(ev); encErr != nil {
				return encErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluation date (YYYY-MM-DD), default today")
	return cmd
}

func seedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo data into an empty database and print an admin token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()
			if err := a.migrate(ctx); err != nil {
				return err
			}
			d, err := seed.SeedDemo(ctx, a.store, a.rent, types.Today())
			if err != nil || d == nil {
				return err
			}
			if a.cfg.Auth.JWTSecret == "" {
				log.Println("seed: JWT_SECRET is not set, no token issued")
				return nil
			}
			token, err := auth.NewJWTService(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, a.cfg.TokenTTL()).GenerateToken(d.TC)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agency: %s\nadmin:  %s / %s\ntoken:  %s\n", d.Agency.ID, seed.DemoEmail, seed.DemoPassword, token)
			return nil
		},
	}
}
