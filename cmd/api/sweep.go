package main

import (
	"coinvest-backend/internal/interfaces/router"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Release expired share reservations, finish interrupted pool cancellations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := router.NewServices(appCfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx := log.Logger.WithContext(cmd.Context())
			n, err := svc.Pools.ExpireReservations(ctx, limit)
			if err != nil {
				return err
			}
			cancelled, err := svc.Pools.ResumeCancellations(ctx, cancellationGrace)
			if err != nil {
				return err
			}
			log.Info().Int("released", n).Int("pools_cancelled", cancelled).Msg("Sweep finished")
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", sweepBatch, "maximum reservations to release")
	return cmd
}
