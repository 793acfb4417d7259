package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"eyeconnect/native/internal/logging"
)

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// rtpReader is the part of a remote track the recorder consumes.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, error)
}

// Recorder writes received VP8 video to .ivf and Opus audio to .ogg files.
type Recorder struct {
	dir    string
	prefix string

	mu      sync.Mutex
	seq     int
	writers []rtpWriter
	closed  bool
}

func NewRecorder(dir, prefix string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &Recorder{dir: dir, prefix: prefix}, nil
}

// HandleTrack records track until it ends. Unsupported codecs are drained.
func (r *Recorder) HandleTrack(track *pion.TrackRemote) {
	codec := track.Codec()
	r.Record(codec.RTPCodecCapability, remoteReader{track})
}

// Record writes packets read from src into a file chosen by the codec.
func (r *Recorder) Record(codec pion.RTPCodecCapability, src rtpReader) {
	w, path, err := r.open(codec)
	if err != nil {
		logging.Warnf("[media] not recording %s: %v", codec.MimeType, err)
		drain(src)
		return
	}
	logging.Infof("[media] recording %s to %s", codec.MimeType, path)

	for {
		pkt, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Debugf("[media] %s track ended: %v", codec.MimeType, err)
			}
			break
		}
		if err := w.WriteRTP(pkt); err != nil {
			logging.Warnf("[media] write %s: %v", path, err)
			break
		}
	}
	r.release(w)
}

// Close finalizes every open file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	writers := r.writers
	r.writers = nil
	r.mu.Unlock()

	var errs []error
	for _, w := range writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) open(codec pion.RTPCodecCapability) (rtpWriter, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, "", errors.New("recorder closed")
	}
	r.seq++

	var (
		w    rtpWriter
		path string
		err  error
	)
	switch {
	case strings.EqualFold(codec.MimeType, pion.MimeTypeVP8):
		path = filepath.Join(r.dir, fmt.Sprintf("%s-video-%d.ivf", r.prefix, r.seq))
		w, err = ivfwriter.New(path)
	case strings.EqualFold(codec.MimeType, pion.MimeTypeOpus):
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		path = filepath.Join(r.dir, fmt.Sprintf("%s-audio-%d.ogg", r.prefix, r.seq))
		w, err = oggwriter.New(path, opusSampleRate, channels)
	default:
		return nil, "", fmt.Errorf("unsupported codec")
	}
	if err != nil {
		return nil, "", fmt.Errorf("create %s: %w", path, err)
	}
	r.writers = append(r.writers, w)
	return w, path, nil
}

func (r *Recorder) release(w rtpWriter) {
	r.mu.Lock()
	for i, o := range r.writers {
		if o == w {
			r.writers = append(r.writers[:i], r.writers[i+1:]...)
			r.mu.Unlock()
			if err := w.Close(); err != nil {
				logging.Warnf("[media] finalize recording: %v", err)
			}
			return
		}
	}
	r.mu.Unlock()
}

func drain(src rtpReader) {
	for {
		if _, err := src.ReadRTP(); err != nil {
			return
		}
	}
}

type remoteReader struct{ t *pion.TrackRemote }

func (r remoteReader) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}
