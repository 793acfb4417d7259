package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"eyeconnect/native/internal/logging"
)

// ICEServers builds the ICE server list. STUN is always included. TURN is
// included only when both a username and a credential are configured;
// otherwise it is skipped with a warning.
func (c *Config) ICEServers() ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if len(c.StunURLs) > 0 {
		server := webrtc.ICEServer{URLs: c.StunURLs}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("stun: %w", err)
		}
		servers = append(servers, server)
	}

	if len(c.TurnURLs) > 0 {
		if c.TurnUsername == "" || c.TurnCredential == "" {
			logging.Warnf("[config] TURN configured without credentials, skipping %v", c.TurnURLs)
			return servers, nil
		}
		server := webrtc.ICEServer{
			URLs:       c.TurnURLs,
			Username:   c.TurnUsername,
			Credential: c.TurnCredential,
		}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("turn: %w", err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	requiresTurnCreds := false
	for _, url := range server.URLs {
		if !isAllowedICEScheme(url) {
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			requiresTurnCreds = true
		}
	}

	if requiresTurnCreds {
		if strings.TrimSpace(server.Username) == "" {
			return errors.New("turn urls require username")
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}

func isAllowedICEScheme(url string) bool {
	switch {
	case strings.HasPrefix(url, "stun:"),
		strings.HasPrefix(url, "stuns:"),
		strings.HasPrefix(url, "turn:"),
		strings.HasPrefix(url, "turns:"):
		return true
	default:
		return false
	}
}
