package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"eyeconnect/native/internal/domain"
)

const (
	defaultFrameDuration = 33 * time.Millisecond
	oggPageDuration      = 20 * time.Millisecond
	opusSampleRate       = 48000
)

type source interface {
	run(ctx context.Context, write func(pionmedia.Sample) error) error
	close() error
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMediaAccessDenied, path)
		}
		return nil, fmt.Errorf("open media file: %w", err)
	}
	return f, nil
}

type ivfSource struct {
	f     *os.File
	r     *ivfreader.IVFReader
	frame time.Duration
}

func openIVF(path string) (*ivfSource, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	r, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ivf header %s: %w", path, err)
	}
	if header.FourCC != "VP80" {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported video codec %q, want VP80", path, header.FourCC)
	}

	frame := defaultFrameDuration
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		frame = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	return &ivfSource{f: f, r: r, frame: frame}, nil
}

func (s *ivfSource) run(ctx context.Context, write func(pionmedia.Sample) error) error {
	ticker := time.NewTicker(s.frame)
	defer ticker.Stop()

	for {
		frame, _, err := s.r.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ivf frame: %w", err)
		}
		if err := write(pionmedia.Sample{Data: frame, Duration: s.frame}); err != nil {
			return fmt.Errorf("write video sample: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *ivfSource) close() error { return s.f.Close() }

type oggSource struct {
	f *os.File
	r *oggreader.OggReader
}

func openOgg(path string) (*oggSource, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ogg header %s: %w", path, err)
	}
	return &oggSource{f: f, r: r}, nil
}

func (s *oggSource) run(ctx context.Context, write func(pionmedia.Sample) error) error {
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		page, header, err := s.r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ogg page: %w", err)
		}

		samples := float64(header.GranulePosition - lastGranule)
		lastGranule = header.GranulePosition
		duration := time.Duration(samples / opusSampleRate * float64(time.Second))
		if err := write(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			return fmt.Errorf("write audio sample: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *oggSource) close() error { return s.f.Close() }
