// Package webrtc negotiates a single peer connection: local media, SDP
// exchange and ICE candidate buffering.
package webrtc

import (
	"context"
	"fmt"
	"net"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"eyeconnect/native/internal/domain"
	"eyeconnect/native/internal/logging"
	"eyeconnect/native/internal/media"
)

// TrackSink consumes a remote track until it ends.
type TrackSink interface {
	HandleTrack(track *pion.TrackRemote)
}

// peerConnection is the subset of *pion.PeerConnection the engine drives.
type peerConnection interface {
	CreateOffer(options *pion.OfferOptions) (pion.SessionDescription, error)
	CreateAnswer(options *pion.AnswerOptions) (pion.SessionDescription, error)
	SetLocalDescription(desc pion.SessionDescription) error
	SetRemoteDescription(desc pion.SessionDescription) error
	AddICECandidate(candidate pion.ICECandidateInit) error
	AddTrack(track pion.TrackLocal) (*pion.RTPSender, error)
	AddTransceiverFromKind(kind pion.RTPCodecType, init ...pion.RTPTransceiverInit) (*pion.RTPTransceiver, error)
	OnICECandidate(f func(*pion.ICECandidate))
	OnConnectionStateChange(f func(pion.PeerConnectionState))
	OnTrack(f func(*pion.TrackRemote, *pion.RTPReceiver))
	Close() error
}

var _ domain.Peer = (*Engine)(nil)

// Config is the per-attempt engine configuration.
type Config struct {
	ICEServers []pion.ICEServer
	API        APIConfig
	Sink       TrackSink
}

// Engine drives one negotiation attempt. All description and candidate
// operations are serialized by mu.
type Engine struct {
	cfg   Config
	newPC func(pion.Configuration) (peerConnection, error)

	mu        sync.Mutex
	pc        peerConnection
	local     *media.LocalMedia
	remoteSet bool
	pending   pendingCandidates
	remote    []domain.RemoteTrack
	closed    bool

	state stateTracker

	cbMu     sync.Mutex
	onICE    func(domain.ICECandidatePayload)
	onRemote func(domain.RemoteMedia)
}

// NewEngine creates an idle engine. Nothing touches the network until
// CreateTransport.
func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	e.newPC = e.dial
	return e
}

func (e *Engine) dial(conf pion.Configuration) (peerConnection, error) {
	api, err := NewAPI(e.cfg.API)
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(conf)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (e *Engine) SetOnICECandidate(fn func(domain.ICECandidatePayload)) {
	e.cbMu.Lock()
	e.onICE = fn
	e.cbMu.Unlock()
}

func (e *Engine) SetOnStateChange(fn func(domain.ConnectionState)) {
	e.state.setListener(fn)
}

func (e *Engine) SetOnRemoteMedia(fn func(domain.RemoteMedia)) {
	e.cbMu.Lock()
	e.onRemote = fn
	e.cbMu.Unlock()
}

func (e *Engine) State() domain.ConnectionState { return e.state.get() }

// InitializeLocalMedia acquires local tracks. Calling it again keeps the
// tracks already acquired.
func (e *Engine) InitializeLocalMedia(c domain.MediaConstraints) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrTransportNotReady
	}
	if e.local != nil {
		return nil
	}

	local, err := media.Open(c)
	if err != nil {
		return fmt.Errorf("initialize local media: %w", err)
	}
	e.local = local
	return nil
}

// CreateTransport builds the peer connection and attaches local tracks.
// Kinds without a local track get a receive-only transceiver so remote media
// is still negotiated. It is a no-op once a transport exists.
func (e *Engine) CreateTransport() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrTransportNotReady
	}
	if e.pc != nil {
		return nil
	}

	pc, err := e.newPC(pion.Configuration{
		ICEServers:   e.cfg.ICEServers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	sending := map[pion.RTPCodecType]bool{}
	if e.local != nil {
		for _, t := range e.local.Tracks() {
			sender, err := pc.AddTrack(t.Track())
			if err != nil {
				pc.Close()
				return fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
			if sender != nil {
				go readRTCP(sender)
			}
			sending[t.Kind()] = true
		}
	}
	for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo} {
		if sending[kind] {
			continue
		}
		_, err := pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			pc.Close()
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	pc.OnICECandidate(e.handleLocalCandidate)
	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		logging.Debugf("[webrtc] peer connection state: %s", s)
		if next, ok := fromPion(s); ok {
			e.state.set(next)
		}
	})
	pc.OnTrack(e.handleTrack)

	e.pc = pc
	logging.Infof("[webrtc] transport created (pending candidates: %d)", e.pending.len())
	return nil
}

// CreateOffer generates and applies a local offer.
func (e *Engine) CreateOffer() (domain.SDPPayload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyLocked(); err != nil {
		return domain.SDPPayload{}, err
	}

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("%w: create offer: %v", domain.ErrNegotiationFailed, err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("%w: set local offer: %v", domain.ErrNegotiationFailed, err)
	}

	logging.Infof("[webrtc] local SDP offer set")
	return domain.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer applies offer as the remote description, drains buffered
// candidates and only then generates and applies the answer.
func (e *Engine) CreateAnswer(offer domain.SDPPayload) (domain.SDPPayload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyLocked(); err != nil {
		return domain.SDPPayload{}, err
	}

	if err := e.applyRemoteLocked(pion.SDPTypeOffer, offer.SDP); err != nil {
		return domain.SDPPayload{}, err
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("%w: create answer: %v", domain.ErrNegotiationFailed, err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("%w: set local answer: %v", domain.ErrNegotiationFailed, err)
	}

	logging.Infof("[webrtc] local SDP answer set")
	return domain.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetRemoteAnswer applies answer and drains buffered candidates.
func (e *Engine) SetRemoteAnswer(answer domain.SDPPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyLocked(); err != nil {
		return err
	}
	return e.applyRemoteLocked(pion.SDPTypeAnswer, answer.SDP)
}

// AddRemoteICECandidate applies c, or queues it while there is no transport
// or no remote description yet. A candidate the transport rejects is logged
// and dropped.
func (e *Engine) AddRemoteICECandidate(c domain.ICECandidatePayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrTransportNotReady
	}

	if e.pc == nil || !e.remoteSet {
		e.pending.push(c)
		logging.Debugf("[webrtc] buffered remote ICE candidate (%d pending)", e.pending.len())
		return nil
	}
	e.applyCandidateLocked(c)
	return nil
}

func (e *Engine) ToggleAudio(enabled *bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local.Toggle(pion.RTPCodecTypeAudio, enabled)
}

func (e *Engine) ToggleVideo(enabled *bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local.Toggle(pion.RTPCodecTypeVideo, enabled)
}

// StartMedia begins feeding local sources once the connection is up.
func (e *Engine) StartMedia(ctx context.Context) {
	e.mu.Lock()
	local := e.local
	closed := e.closed
	e.mu.Unlock()
	if local != nil && !closed {
		local.Start(ctx)
	}
}

// Close stops local media, closes the transport and forgets remote media.
// It is safe to call more than once and concurrently with negotiation.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	local, pc := e.local, e.pc
	e.local, e.pc = nil, nil
	e.remote = nil
	e.pending.drain()
	e.mu.Unlock()

	local.Stop()
	if pc != nil {
		if err := pc.Close(); err != nil {
			logging.Warnf("[webrtc] close peer connection: %v", err)
		}
	}
	e.state.set(domain.StateClosed)
	logging.Infof("[webrtc] engine closed")
}

func (e *Engine) readyLocked() error {
	if e.closed || e.pc == nil {
		return domain.ErrTransportNotReady
	}
	return nil
}

func (e *Engine) applyRemoteLocked(typ pion.SDPType, sdp string) error {
	desc := pion.SessionDescription{Type: typ, SDP: sdp}
	if err := e.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote %s: %v", domain.ErrNegotiationFailed, typ, err)
	}
	e.remoteSet = true
	logging.Infof("[webrtc] remote SDP %s set", typ)

	queued := e.pending.drain()
	if len(queued) > 0 {
		logging.Debugf("[webrtc] applying %d buffered ICE candidates", len(queued))
	}
	for _, c := range queued {
		e.applyCandidateLocked(c)
	}
	return nil
}

func (e *Engine) applyCandidateLocked(c domain.ICECandidatePayload) {
	init := pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
	if err := e.pc.AddICECandidate(init); err != nil {
		logging.Warnf("[webrtc] %v: %v", domain.ErrCandidateApplicationFailed, err)
		return
	}
	logging.Debugf("[webrtc] added remote ICE candidate")
}

func (e *Engine) handleLocalCandidate(c *pion.ICECandidate) {
	if c == nil {
		logging.Debugf("[webrtc] ICE gathering complete")
		return
	}

	if isLoopback(c.Address) {
		logging.Debugf("[webrtc] filtering loopback ICE candidate")
		return
	}

	e.cbMu.Lock()
	fn := e.onICE
	e.cbMu.Unlock()
	if fn == nil {
		return
	}
	init := c.ToJSON()
	fn(domain.ICECandidatePayload{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	})
}

func (e *Engine) handleTrack(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	info := domain.RemoteTrack{
		ID:       track.ID(),
		StreamID: track.StreamID(),
		Kind:     track.Kind().String(),
		Codec:    track.Codec().MimeType,
	}
	logging.Infof("[webrtc] got track: kind=%s codec=%s", info.Kind, info.Codec)

	snapshot, ok := e.addRemote(info)
	if !ok {
		return
	}

	e.cbMu.Lock()
	fn := e.onRemote
	e.cbMu.Unlock()
	if fn != nil {
		fn(snapshot)
	}

	if e.cfg.Sink != nil {
		go e.cfg.Sink.HandleTrack(track)
		return
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}

func (e *Engine) addRemote(t domain.RemoteTrack) (domain.RemoteMedia, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.RemoteMedia{}, false
	}
	e.remote = append(e.remote, t)
	tracks := make([]domain.RemoteTrack, len(e.remote))
	copy(tracks, e.remote)
	return domain.RemoteMedia{Tracks: tracks}, true
}

// readRTCP keeps the sender's interceptors fed until the sender stops.
func readRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// isLoopback reports whether address is a literal loopback IP. Hostnames,
// including mDNS .local names, are never loopback.
func isLoopback(address string) bool {
	ip := net.ParseIP(address)
	return ip != nil && ip.IsLoopback()
}
