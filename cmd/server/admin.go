package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jakechorley/shiftbook/pkg/db"
)

// Admin commands operate on the store directly, without going through the
// HTTP surface.

func addShiftCmd() *cobra.Command {
	var (
		location  string
		shiftType string
		capacity  int
		duration  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "addShift <starts_at>",
		Short: "Create a bookable shift (starts_at in RFC 3339)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startsAt, err := time.Parse(time.RFC3339, args[0])
			if err != nil {
				return fmt.Errorf("starts_at must be RFC 3339: %w", err)
			}

			database, err := openDatabase(app.ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			shift := db.Shift{
				ID:        uuid.New().String(),
				Location:  location,
				ShiftType: shiftType,
				StartsAt:  startsAt,
				EndsAt:    startsAt.Add(duration),
				Capacity:  capacity,
			}
			if err := database.CreateShift(app.ctx, shift); err != nil {
				return fmt.Errorf("failed to create shift: %w", err)
			}

			fmt.Printf("Shift created: %s (%s at %s, capacity %d)\n",
				shift.ID, shift.ShiftType, shift.StartsAt.Format(time.RFC3339), shift.Capacity)
			return nil
		},
	}

	cmd.Flags().StringVar(&location, "location", "", "Shift location")
	cmd.Flags().StringVar(&shiftType, "type", "", "Shift type")
	cmd.Flags().IntVar(&capacity, "capacity", 1, "Maximum confirmed volunteers")
	cmd.Flags().DurationVar(&duration, "duration", 4*time.Hour, "Shift length")
	cmd.MarkFlagRequired("location")
	cmd.MarkFlagRequired("type")

	return cmd
}

func deleteShiftCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deleteShift <shift_id>",
		Short: "Delete a shift and everything booked on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase(app.ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.DeleteShift(app.ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete shift: %w", err)
			}

			fmt.Printf("Shift %s deleted.\n", args[0])
			return nil
		},
	}
}

func addRuleCmd() *cobra.Command {
	var (
		intValue    int
		stringValue string
	)

	cmd := &cobra.Command{
		Use:   "addRule <shift_type> <predicate>",
		Short: "Create an auto-accept rule (predicate: GRADE_AT_LEAST, COMPLETED_SHIFTS_AT_LEAST or LOCATION_IS)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate := args[1]
			switch predicate {
			case db.PredicateGradeAtLeast, db.PredicateCompletedShiftsAtLeast, db.PredicateLocationIs:
			default:
				return fmt.Errorf("unknown predicate kind %q", predicate)
			}

			database, err := openDatabase(app.ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			rule := db.AutoAcceptRule{
				ID:            uuid.New().String(),
				ShiftType:     args[0],
				Enabled:       true,
				PredicateKind: predicate,
				IntValue:      intValue,
				StringValue:   stringValue,
			}
			if err := database.CreateAutoAcceptRule(app.ctx, rule); err != nil {
				return fmt.Errorf("failed to create rule: %w", err)
			}

			fmt.Printf("Rule created: %s\n", rule.ID)
			return nil
		},
	}

	cmd.Flags().IntVar(&intValue, "int-value", 0, "Threshold for numeric predicates")
	cmd.Flags().StringVar(&stringValue, "string-value", "", "Value for string predicates")

	return cmd
}

func setRuleEnabledCmd() *cobra.Command {
	var enabled bool

	cmd := &cobra.Command{
		Use:   "setRuleEnabled <rule_id>",
		Short: "Enable or disable an auto-accept rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase(app.ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.SetRuleEnabled(app.ctx, args[0], enabled); err != nil {
				return fmt.Errorf("failed to update rule: %w", err)
			}

			fmt.Printf("Rule %s enabled=%t.\n", args[0], enabled)
			return nil
		},
	}

	cmd.Flags().BoolVar(&enabled, "enabled", true, "Whether the rule is active")

	return cmd
}

func addRegularCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "addRegular <user_id> <shift_type>",
		Short: "Register a volunteer as a regular for a shift type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := app.cfg.RegularSchedules[args[1]]; !ok {
				return fmt.Errorf("no schedule configured for shift type %q", args[1])
			}

			database, err := openDatabase(app.ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			regular := db.RegularVolunteer{
				ID:        uuid.New().String(),
				UserID:    args[0],
				ShiftType: args[1],
				Active:    true,
				CreatedAt: time.Now().UTC(),
			}
			if err := database.CreateRegular(app.ctx, regular); err != nil {
				return fmt.Errorf("failed to create regular volunteer: %w", err)
			}

			fmt.Printf("Regular volunteer created: %s\n", regular.ID)
			return nil
		},
	}
}

func deactivateRegularCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivateRegular <regular_id>",
		Short: "End a regular commitment and cancel its held signups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase(app.ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			hub := broadcastHub()
			defer hub.Close()

			bookings := bookingService(database, hub)
			regulars, err := regularService(database, bookings)
			if err != nil {
				return err
			}

			if err := regulars.Deactivate(app.ctx, args[0]); err != nil {
				return err
			}

			fmt.Printf("Regular volunteer %s deactivated.\n", args[0])
			return nil
		},
	}
}
