package main

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"eyeconnect/native/internal/api"
	"eyeconnect/native/internal/config"
	"eyeconnect/native/internal/domain"
	"eyeconnect/native/internal/presence"
)

func newVolunteerCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "volunteer [room-id]",
		Short: "Answer a help request",
		Long: `Accept a waiting help request and join its call. Without a room id the
oldest waiting request in the call matching store is taken.

Examples:
  eyeconnect volunteer
  eyeconnect volunteer room_1718000000000_k3j9x0abc`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateRelay(); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			var roomID string
			if len(args) == 1 {
				roomID = args[0]
			}

			self := domain.NewParticipant(domain.RoleResponder)
			if cfg.HasStore() {
				client := api.NewClient(cfg.RestURL, cfg.APIKey)
				if roomID == "" {
					row, err := client.NextWaiting(ctx)
					if errors.Is(err, api.ErrNoWaitingCall) {
						return fmt.Errorf("nobody is waiting for help right now")
					}
					if err != nil {
						return err
					}
					roomID = row.RoomID
				}
				if _, err := client.AcceptCall(ctx, roomID, self.ID); err != nil {
					return err
				}
				pterm.Success.Printfln("Accepted request %s", roomID)
			} else if roomID == "" {
				return fmt.Errorf("room id required when no call matching store is configured")
			}

			ch := presence.NewRealtime(presence.RealtimeConfig{URL: cfg.RelayURL, APIKey: cfg.APIKey})
			return runCall(ctx, cfg, ch, roomID, self)
		},
	}
}

func newJoinCmd(cfg *config.Config) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "join <room-id>",
		Short: "Join a room directly with an explicit role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			if err := cfg.ValidateRelay(); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			ch := presence.NewRealtime(presence.RealtimeConfig{URL: cfg.RelayURL, APIKey: cfg.APIKey})
			return runCall(ctx, cfg, ch, args[0], domain.NewParticipant(r))
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleRequester), "requester or responder")
	return cmd
}
