package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"eyeconnect/native/internal/call"
	"eyeconnect/native/internal/config"
	"eyeconnect/native/internal/domain"
	"eyeconnect/native/internal/media"
	sigcoord "eyeconnect/native/internal/signal"
	"eyeconnect/native/internal/webrtc"
)

const hangupTimeout = 5 * time.Second

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func constraints(cfg *config.Config) domain.MediaConstraints {
	c := domain.MediaConstraints{
		Audio: !cfg.NoAudio,
		Video: !cfg.NoVideo,
	}
	if c.Audio {
		c.AudioFile = cfg.AudioFile
	}
	if c.Video {
		c.VideoFile = cfg.VideoFile
	}
	return c
}

// engineFactory returns a factory for negotiation attempts configured from
// cfg. The returned cleanup finalizes any recording.
func engineFactory(cfg *config.Config, prefix string, api webrtc.APIConfig) (call.PeerFactory, func(), error) {
	servers, err := cfg.ICEServers()
	if err != nil {
		return nil, nil, err
	}

	engineCfg := webrtc.Config{ICEServers: servers, API: api}
	cleanup := func() {}
	if cfg.RecordDir != "" {
		rec, err := media.NewRecorder(cfg.RecordDir, prefix)
		if err != nil {
			return nil, nil, err
		}
		engineCfg.Sink = rec
		cleanup = func() {
			if err := rec.Close(); err != nil {
				pterm.Warning.Printfln("finalize recording: %v", err)
			}
		}
	}

	return func() domain.Peer { return webrtc.NewEngine(engineCfg) }, cleanup, nil
}

// runCall joins roomID over ch and keeps the call up until the user
// interrupts, the attempt fails, or the relay is lost.
func runCall(ctx context.Context, cfg *config.Config, ch domain.PresenceChannel, roomID string, self domain.Participant) error {
	newPeer, cleanup, err := engineFactory(cfg, roomID+"-"+string(self.Role), webrtc.APIConfig{})
	if err != nil {
		return err
	}
	defer cleanup()

	coord := sigcoord.NewCoordinator(ch, domain.Room{ID: roomID}, self)

	spinner, _ := pterm.DefaultSpinner.Start("Waiting for the other side to join room " + roomID)
	ended := make(chan error, 1)

	c := call.New(self, newPeer, call.Options{
		Constraints:    constraints(cfg),
		ConnectTimeout: cfg.ConnectTimeout,
		Hooks: call.Hooks{
			OnPeerJoined: func(id string) {
				spinner.UpdateText("Connecting to " + id)
			},
			OnPeerLeft: func(id string) {
				pterm.Info.Printfln("%s left the call", id)
				spinner.UpdateText("Waiting for the other side to rejoin")
			},
			OnState: func(s domain.ConnectionState) {
				switch s {
				case domain.StateConnected:
					spinner.Success("Connected")
				case domain.StateFailed:
					pterm.Error.Println("Connection failed")
				case domain.StateDisconnected:
					pterm.Warning.Println("Connection interrupted, trying to recover")
				}
			},
			OnRemoteMedia: func(m domain.RemoteMedia) {
				for _, t := range m.Tracks {
					pterm.Info.Printfln("receiving %s (%s)", t.Kind, t.Codec)
				}
			},
			OnWarning: func(msg string) {
				pterm.Warning.Println(msg)
			},
			OnEnded: func(err error) {
				select {
				case ended <- err:
				default:
				}
			},
		},
	})
	c.SetSignaler(coord)
	coord.SetHandler(c)

	if err := c.Start(ctx); err != nil {
		spinner.Fail(err.Error())
		if errors.Is(err, domain.ErrMediaAccessDenied) {
			return fmt.Errorf("%w: check file permissions or run with --no-audio/--no-video", err)
		}
		return err
	}

	var result error
	select {
	case <-ctx.Done():
		pterm.Info.Println("Hanging up")
	case err := <-ended:
		result = err
	case <-coord.Done():
		result = fmt.Errorf("%w: relay connection lost", domain.ErrChannel)
	}
	_ = spinner.Stop()

	hctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
	defer cancel()
	if err := c.Hangup(hctx); err != nil && result == nil {
		result = err
	}
	return result
}
