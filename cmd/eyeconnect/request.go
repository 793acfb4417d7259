package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"eyeconnect/native/internal/api"
	"eyeconnect/native/internal/config"
	"eyeconnect/native/internal/domain"
	"eyeconnect/native/internal/presence"
)

func newRequestCmd(cfg *config.Config) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Ask for help and wait for a volunteer",
		Long: `Create a new room and wait for a volunteer to accept it. When a call
matching store is configured the request is published there and the call
starts once a volunteer accepts; otherwise share the printed room id.

Examples:
  eyeconnect request
  eyeconnect request --wait 5m --video-file camera.ivf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateRelay(); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			roomID := domain.NewRoomID()
			if cfg.HasStore() {
				if err := waitForVolunteer(ctx, cfg, roomID, wait); err != nil {
					return err
				}
			} else {
				pterm.Info.Printfln("Room id: %s", roomID)
				pterm.Info.Println("Share it with a volunteer: eyeconnect volunteer " + roomID)
			}

			ch := presence.NewRealtime(presence.RealtimeConfig{URL: cfg.RelayURL, APIKey: cfg.APIKey})
			return runCall(ctx, cfg, ch, roomID, domain.NewParticipant(domain.RoleRequester))
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for a volunteer")
	return cmd
}

func waitForVolunteer(ctx context.Context, cfg *config.Config, roomID string, wait time.Duration) error {
	client := api.NewClient(cfg.RestURL, cfg.APIKey)
	if _, err := client.CreateCall(ctx, roomID); err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start("Searching for a volunteer")
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	row, err := client.WaitAccepted(wctx, roomID, cfg.PollInterval)
	if err != nil {
		spinner.Fail("No volunteer found")
		cctx, ccancel := context.WithTimeout(context.Background(), hangupTimeout)
		defer ccancel()
		if cerr := client.CancelCall(cctx, roomID); cerr != nil {
			pterm.Warning.Printfln("withdraw request: %v", cerr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("no volunteer accepted within %s", wait)
		}
		return err
	}

	helper := "a volunteer"
	if row.HelperID != nil {
		helper = *row.HelperID
	}
	spinner.Success("Accepted by " + helper)
	return nil
}
