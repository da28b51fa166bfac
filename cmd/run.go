package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roadmind/strategy-engine/internal/model"
)

var (
	runLat      float64
	runLon      float64
	runLocality string
	runMarket   string
	runTimezone string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once for a location and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		snapshotID, err := env.Store.CreateSnapshot(ctx, model.Snapshot{
			Latitude:   runLat,
			Longitude:  runLon,
			Locality:   runLocality,
			Market:     runMarket,
			Timezone:   runTimezone,
			CapturedAt: time.Now().UTC(),
		})
		if err != nil {
			return eris.Wrap(err, "create snapshot")
		}

		run, _, err := env.Runner.StartRun(ctx, snapshotID)
		if err != nil {
			return eris.Wrap(err, "start run")
		}
		zap.L().Info("run started",
			zap.String("run_id", run.ID),
			zap.String("snapshot_id", snapshotID),
		)

		ch, cancel, active := env.Runner.Subscribe(snapshotID)
		if active {
			defer cancel()
			for state := range ch {
				run = state
				if state.Phase.Terminal() {
					break
				}
			}
		}

		// The channel closes when the run finishes; read the final record.
		final, err := env.Runner.Status(ctx, snapshotID)
		if err == nil {
			run = final
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return eris.Wrap(err, "encode result")
		}
		if run.Status == model.RunStatusFailed {
			return eris.Errorf("run failed: %s", run.Error)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Float64Var(&runLat, "lat", 0, "snapshot latitude")
	runCmd.Flags().Float64Var(&runLon, "lon", 0, "snapshot longitude")
	runCmd.Flags().StringVar(&runLocality, "locality", "", "locality hint (used when reverse geocoding is unavailable)")
	runCmd.Flags().StringVar(&runMarket, "market", "", "market identifier")
	runCmd.Flags().StringVar(&runTimezone, "tz", "", "IANA time zone of the snapshot")
	_ = runCmd.MarkFlagRequired("lat")
	_ = runCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(runCmd)
}
