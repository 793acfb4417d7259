// Package media owns the local tracks sent to the peer and the optional
// recorder for tracks received from it.
package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"eyeconnect/native/internal/domain"
	"eyeconnect/native/internal/logging"
)

const streamID = "eyeconnect"

// LocalTrack is one outgoing track. Samples written while the track is
// disabled are dropped.
type LocalTrack struct {
	kind    pion.RTPCodecType
	track   *pion.TrackLocalStaticSample
	enabled atomic.Bool
	src     source
}

func newLocalTrack(kind pion.RTPCodecType, capability pion.RTPCodecCapability) (*LocalTrack, error) {
	track, err := pion.NewTrackLocalStaticSample(capability, kind.String()+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	t := &LocalTrack{kind: kind, track: track}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) Kind() pion.RTPCodecType { return t.kind }

// Track returns the value to attach to a peer connection.
func (t *LocalTrack) Track() pion.TrackLocal { return t.track }

func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

func (t *LocalTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// WriteSample forwards s to the peer unless the track is disabled.
func (t *LocalTrack) WriteSample(s pionmedia.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(s)
}

// LocalMedia is the set of acquired local tracks.
type LocalMedia struct {
	Audio *LocalTrack
	Video *LocalTrack

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// Open acquires the tracks requested by c. It returns nil when no media is
// requested. A file source that cannot be read for lack of permission fails
// with domain.ErrMediaAccessDenied.
func Open(c domain.MediaConstraints) (*LocalMedia, error) {
	wantAudio := c.Audio || c.AudioFile != ""
	wantVideo := c.Video || c.VideoFile != ""
	if !wantAudio && !wantVideo {
		return nil, nil
	}

	m := &LocalMedia{}
	if wantAudio {
		t, err := newLocalTrack(pion.RTPCodecTypeAudio, pion.RTPCodecCapability{
			MimeType:  pion.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		})
		if err != nil {
			return nil, err
		}
		if c.AudioFile != "" {
			src, err := openOgg(c.AudioFile)
			if err != nil {
				return nil, err
			}
			t.src = src
		}
		m.Audio = t
	}

	if wantVideo {
		t, err := newLocalTrack(pion.RTPCodecTypeVideo, pion.RTPCodecCapability{
			MimeType:  pion.MimeTypeVP8,
			ClockRate: 90000,
		})
		if err != nil {
			m.closeSources()
			return nil, err
		}
		if c.VideoFile != "" {
			src, err := openIVF(c.VideoFile)
			if err != nil {
				m.closeSources()
				return nil, err
			}
			t.src = src
		}
		m.Video = t
	}

	logging.Infof("[media] local media ready (audio=%t video=%t)", m.Audio != nil, m.Video != nil)
	return m, nil
}

// Tracks returns the acquired tracks, audio first.
func (m *LocalMedia) Tracks() []*LocalTrack {
	var out []*LocalTrack
	if m.Audio != nil {
		out = append(out, m.Audio)
	}
	if m.Video != nil {
		out = append(out, m.Video)
	}
	return out
}

// Toggle sets the enabled flag of every track of kind. A nil enabled flips
// the current value. It returns the resulting state, false when no track of
// that kind exists.
func (m *LocalMedia) Toggle(kind pion.RTPCodecType, enabled *bool) bool {
	if m == nil {
		return false
	}
	result := false
	found := false
	for _, t := range m.Tracks() {
		if t.kind != kind {
			continue
		}
		next := !t.Enabled()
		if enabled != nil {
			next = *enabled
		}
		t.SetEnabled(next)
		result = next
		found = true
	}
	if found {
		logging.Infof("[media] %s enabled=%t", kind, result)
	}
	return result
}

// Start begins pumping file sources into their tracks. Tracks without a
// source are fed by the caller through WriteSample.
func (m *LocalMedia) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	for _, t := range m.Tracks() {
		if t.src == nil {
			continue
		}
		m.wg.Add(1)
		go func(t *LocalTrack) {
			defer m.wg.Done()
			if err := t.src.run(ctx, t.WriteSample); err != nil && ctx.Err() == nil {
				logging.Warnf("[media] %s source stopped: %v", t.kind, err)
				return
			}
			logging.Debugf("[media] %s source finished", t.kind)
		}(t)
	}
}

// Stop ends every source and releases the files behind them. It is safe to
// call more than once.
func (m *LocalMedia) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.closeSources()
	logging.Debugf("[media] local media stopped")
}

func (m *LocalMedia) closeSources() {
	for _, t := range m.Tracks() {
		if t.src != nil {
			_ = t.src.close()
		}
	}
}
