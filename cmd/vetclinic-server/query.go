package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"vetclinic/backend/internal/config"
	"vetclinic/backend/internal/service/availability"
)

type queryFlags struct {
	clinicID int64
	date     string
	vetID    int64
	roomID   int64
	slot     int
	rooms    bool
}

func newAvailabilityCommand() *cobra.Command {
	var f queryFlags

	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Compute availability once and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := f.query(cmd)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
				slog.String("service", serviceName),
			)

			d, err := openDeps(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer d.close(log)

			return runQuery(cmd.Context(), cmd.OutOrStdout(), d.svc, q, f.rooms)
		},
	}

	cmd.Flags().Int64Var(&f.clinicID, "clinic", 0, "clinic id (required)")
	cmd.Flags().StringVar(&f.date, "date", "", "date as YYYY-MM-DD (required)")
	cmd.Flags().Int64Var(&f.vetID, "vet", 0, "vet id")
	cmd.Flags().Int64Var(&f.roomID, "room", 0, "room id")
	cmd.Flags().IntVar(&f.slot, "slot", 0, "slot length in minutes (default from config)")
	cmd.Flags().BoolVar(&f.rooms, "rooms", false, "compute every active room of the clinic")
	_ = cmd.MarkFlagRequired("clinic")
	_ = cmd.MarkFlagRequired("date")
	cmd.MarkFlagsMutuallyExclusive("room", "rooms")

	return cmd
}

// query turns flags into a service query. Optional ids only apply when set.
func (f queryFlags) query(cmd *cobra.Command) (availability.Query, error) {
	date, err := civil.ParseDate(f.date)
	if err != nil {
		return availability.Query{}, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}
	q := availability.Query{ClinicID: f.clinicID, Date: date}
	if cmd.Flags().Changed("vet") {
		v := f.vetID
		q.VetID = &v
	}
	if cmd.Flags().Changed("room") {
		r := f.roomID
		q.RoomID = &r
	}
	if cmd.Flags().Changed("slot") {
		s := f.slot
		q.SlotMinutes = &s
	}
	return q, nil
}

type availabilityComputer interface {
	Compute(ctx context.Context, q availability.Query) (availability.Result, error)
	ComputeRooms(ctx context.Context, q availability.RoomsQuery) ([]availability.RoomAvailability, error)
}

func runQuery(ctx context.Context, w io.Writer, svc availabilityComputer, q availability.Query, rooms bool) error {
	var out any
	if rooms {
		res, err := svc.ComputeRooms(ctx, availability.RoomsQuery{
			ClinicID:    q.ClinicID,
			Date:        q.Date,
			VetID:       q.VetID,
			SlotMinutes: q.SlotMinutes,
		})
		if err != nil {
			return explain(err)
		}
		if res == nil {
			res = []availability.RoomAvailability{}
		}
		out = map[string]any{"date": q.Date, "clinic_id": q.ClinicID, "rooms": res}
	} else {
		res, err := svc.Compute(ctx, q)
		if err != nil {
			return explain(err)
		}
		out = res
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func explain(err error) error {
	var vErr *availability.ValidationError
	if errors.As(err, &vErr) {
		return fmt.Errorf("invalid query: %w", err)
	}
	return err
}
