package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"eyeconnect/native/internal/call"
	"eyeconnect/native/internal/config"
	"eyeconnect/native/internal/domain"
	"eyeconnect/native/internal/presence"
	sigcoord "eyeconnect/native/internal/signal"
	"eyeconnect/native/internal/webrtc"
)

func newLoopbackCmd(cfg *config.Config) *cobra.Command {
	var deadline time.Duration

	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Run a requester and a volunteer in-process and report when they connect",
		Long: `Start both sides of a call inside this process. Signaling goes through an
in-memory relay and media through a virtual network, so no external
service is contacted. Useful to check a build end to end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			ctx, cancelDeadline := context.WithTimeout(ctx, deadline)
			defer cancelDeadline()
			return runLoopback(ctx, cfg)
		},
	}
	cmd.Flags().DurationVar(&deadline, "deadline", 30*time.Second, "give up if both sides are not connected by then")
	return cmd
}

type loopbackSide struct {
	self  domain.Participant
	call  *call.Call
	since time.Time
	took  time.Duration
}

func runLoopback(ctx context.Context, cfg *config.Config) error {
	lan, err := webrtc.NewVirtualLAN("10.0.0.0/24", "10.0.0.1", "10.0.0.2")
	if err != nil {
		return err
	}
	defer lan.Close()

	hub := presence.NewHub()
	roomID := domain.NewRoomID()
	connected := make(chan domain.Role, 8)

	var sides []*loopbackSide
	for i, role := range []domain.Role{domain.RoleRequester, domain.RoleResponder} {
		side := &loopbackSide{self: domain.NewParticipant(role), since: time.Now()}

		engineCfg := webrtc.Config{API: webrtc.APIConfig{ConfigureSettings: lan.Settings(i)}}
		side.call = call.New(side.self, func() domain.Peer { return webrtc.NewEngine(engineCfg) }, call.Options{
			Constraints:    constraints(cfg),
			ConnectTimeout: cfg.ConnectTimeout,
			Hooks: call.Hooks{
				OnState: func(s domain.ConnectionState) {
					if s == domain.StateConnected {
						select {
						case connected <- role:
						default:
						}
					}
				},
				OnWarning: func(msg string) { pterm.Warning.Printfln("%s: %s", role, msg) },
			},
		})

		coord := sigcoord.NewCoordinator(hub.Channel(), domain.Room{ID: roomID}, side.self)
		side.call.SetSignaler(coord)
		coord.SetHandler(side.call)
		sides = append(sides, side)
	}

	defer func() {
		hctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
		defer cancel()
		for _, s := range sides {
			_ = s.call.Hangup(hctx)
		}
	}()

	spinner, _ := pterm.DefaultSpinner.Start("Negotiating in room " + roomID)
	for _, s := range sides {
		if err := s.call.Start(ctx); err != nil {
			spinner.Fail(err.Error())
			return err
		}
	}

	done := map[domain.Role]bool{}
	for len(done) < len(sides) {
		select {
		case role := <-connected:
			if done[role] {
				continue
			}
			done[role] = true
			for _, s := range sides {
				if s.self.Role == role {
					s.took = time.Since(s.since)
				}
			}
		case <-ctx.Done():
			spinner.Fail("Not connected")
			return fmt.Errorf("loopback: %w", ctx.Err())
		}
	}
	spinner.Success("Both sides connected")

	data := pterm.TableData{{"Role", "Participant", "State", "Time to connect"}}
	for _, s := range sides {
		data = append(data, []string{
			string(s.self.Role),
			s.self.ID,
			s.call.State().String(),
			s.took.Round(time.Millisecond).String(),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
