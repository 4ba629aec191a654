package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinvest-backend/internal/application/pools"
	"coinvest-backend/internal/infrastructure/scheduler"
	"coinvest-backend/internal/interfaces/router"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	sweepBatch = 200
	// cancellationGrace leaves a pool cancellation this long before the resumer takes it over.
	cancellationGrace = 10 * time.Minute
)

func newServeCmd() *cobra.Command {
	var noSweeper bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sweepers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := router.NewServices(appCfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if svc.Rdb != nil {
				if err := svc.Rdb.Ping(cmd.Context()).Err(); err != nil {
					return err
				}
				log.Info().Msg("Redis connected")
			}
			if !svc.Gateway.Configured() {
				log.Warn().Msg("STRIPE_SECRET_KEY not set; purchases and payouts will fail")
			}

			var sched *scheduler.Scheduler
			if !noSweeper {
				sched = scheduler.New(log.Logger, time.Minute)
				if err := sched.AddJob(appCfg.SweepSchedule, &pools.SweepJob{Service: svc.Pools, Limit: sweepBatch}); err != nil {
					return err
				}
				if err := sched.AddJob(appCfg.SweepSchedule, &pools.CancellationJob{Service: svc.Pools, After: cancellationGrace}); err != nil {
					return err
				}
				sched.Start()
			}

			app := router.CreateApp(appCfg, svc)
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("port", appCfg.Port).Msg("Server running")
				errCh <- app.Listen(":" + appCfg.Port)
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err = <-errCh:
			case <-stop:
				log.Info().Msg("Shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				err = app.ShutdownWithContext(ctx)
			}
			if sched != nil {
				sched.Stop()
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&noSweeper, "no-sweeper", false, "do not run the background sweepers in this process")
	return cmd
}
