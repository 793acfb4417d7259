package main

import (
	"github.com/spf13/cobra"

	"eyeconnect/native/internal/config"
	"eyeconnect/native/internal/logging"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "eyeconnect",
		Short: "Peer-to-peer audio/video calls between people asking for help and volunteers",
		Long: `eyeconnect connects a person who needs a second pair of eyes with a
sighted volunteer over a direct WebRTC call. Handshake messages travel
through a hosted realtime relay keyed by room id.

Environment variables (also read from .env):
  EYECONNECT_SUPABASE_URL     project URL; derives relay and REST endpoints
  EYECONNECT_RELAY_URL        realtime websocket URL
  EYECONNECT_REST_URL         PostgREST base URL for the calls table
  EYECONNECT_API_KEY          anon key for relay and REST
  EYECONNECT_STUN_URLS        comma-separated STUN URLs
  EYECONNECT_TURN_URLS        comma-separated TURN URLs
  EYECONNECT_TURN_USERNAME    TURN username
  EYECONNECT_TURN_CREDENTIAL  TURN credential
  EYECONNECT_LOG_LEVEL        trace, debug, info, warn, error`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(cfg.LogLevel)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&cfg.RelayURL, "relay-url", cfg.RelayURL, "realtime websocket URL")
	f.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "relay and REST API key")
	f.StringVar(&cfg.RestURL, "rest-url", cfg.RestURL, "call matching store REST URL")
	f.StringSliceVar(&cfg.StunURLs, "stun", cfg.StunURLs, "STUN server URLs")
	f.StringSliceVar(&cfg.TurnURLs, "turn", cfg.TurnURLs, "TURN server URLs")
	f.StringVar(&cfg.TurnUsername, "turn-user", cfg.TurnUsername, "TURN username")
	f.StringVar(&cfg.TurnCredential, "turn-pass", cfg.TurnCredential, "TURN credential")
	f.DurationVar(&cfg.ConnectTimeout, "timeout", cfg.ConnectTimeout, "warn when a connection takes longer than this")
	f.StringVar(&cfg.AudioFile, "audio-file", cfg.AudioFile, "Ogg/Opus file to send as audio")
	f.StringVar(&cfg.VideoFile, "video-file", cfg.VideoFile, "IVF/VP8 file to send as video")
	f.BoolVar(&cfg.NoAudio, "no-audio", cfg.NoAudio, "do not send audio")
	f.BoolVar(&cfg.NoVideo, "no-video", cfg.NoVideo, "do not send video")
	f.StringVar(&cfg.RecordDir, "record-dir", cfg.RecordDir, "write received media to this directory")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")

	root.AddCommand(
		newRequestCmd(cfg),
		newVolunteerCmd(cfg),
		newJoinCmd(cfg),
		newLoopbackCmd(cfg),
	)
	return root
}
