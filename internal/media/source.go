package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	defaultFrameInterval = 33 * time.Millisecond
	oggPageDuration      = 20 * time.Millisecond
	opusSampleRate       = 48000
)

// Source acquires local media for a call.
type Source interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Stream is acquired local media. Disabling a kind keeps its track open but
// stops sending samples on it.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	Has(kind Kind) bool
	SetEnabled(kind Kind, on bool) bool
	Enabled(kind Kind) bool
	Stop()
}

// FileSource captures from an IVF (VP8/VP9) video file and an Ogg (Opus) audio
// file, looping each at EOF.
type FileSource struct {
	VideoPath string
	AudioPath string
	StreamID  string
	Clock     clock.Clock
}

// Acquire validates and opens the capture files and starts pacing samples
// onto local tracks.
func (s *FileSource) Acquire(ctx context.Context) (Stream, error) {
	files, err := ValidateFiles(s.VideoPath, s.AudioPath)
	if err != nil {
		return nil, err
	}

	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	streamID := s.StreamID
	if streamID == "" {
		streamID = "cafe"
	}

	stream := &fileStream{clock: clk, stop: make(chan struct{})}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			stream.Stop()
			return nil, err
		}

		var c *capture
		switch f.Kind {
		case Video:
			c, err = openVideo(f.Path, streamID)
		case Audio:
			c, err = openAudio(f.Path, streamID)
		}
		if err != nil {
			stream.Stop()
			return nil, classify(f.Path, err)
		}
		slog.Debug("capture opened", "kind", f.Kind, "path", f.Path, "codec", c.track.Codec().MimeType)
		stream.captures = append(stream.captures, c)
	}

	stream.start()
	return stream, nil
}

// capture feeds one local track from one file.
type capture struct {
	kind     Kind
	file     *os.File
	track    *webrtc.TrackLocalStaticSample
	interval time.Duration
	enabled  atomic.Bool

	next   func() ([]byte, time.Duration, error)
	rewind func() error
}

func openVideo(path, streamID string) (*capture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	var mimeType string
	switch header.FourCC {
	case "VP80":
		mimeType = webrtc.MimeTypeVP8
	case "VP90":
		mimeType = webrtc.MimeTypeVP9
	default:
		file.Close()
		return nil, fmt.Errorf("%w: video codec %q", ErrUnsupported, header.FourCC)
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, string(Video), streamID)
	if err != nil {
		file.Close()
		return nil, err
	}

	interval := defaultFrameInterval
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		interval = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	c := &capture{kind: Video, file: file, track: track, interval: interval}
	c.enabled.Store(true)
	c.next = func() ([]byte, time.Duration, error) {
		frame, _, err := reader.ParseNextFrame()
		return frame, interval, err
	}
	c.rewind = func() error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		reader, _, err = ivfreader.NewWith(file)
		return err
	}
	return c, nil
}

func openAudio(path, streamID string) (*capture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, string(Audio), streamID)
	if err != nil {
		file.Close()
		return nil, err
	}

	var lastGranule uint64
	c := &capture{kind: Audio, file: file, track: track, interval: oggPageDuration}
	c.enabled.Store(true)
	c.next = func() ([]byte, time.Duration, error) {
		page, header, err := reader.ParseNextPage()
		if err != nil {
			return nil, 0, err
		}
		duration := oggPageDuration
		if header.GranulePosition > lastGranule {
			samples := header.GranulePosition - lastGranule
			duration = time.Duration(float64(samples) / opusSampleRate * float64(time.Second))
		}
		lastGranule = header.GranulePosition
		return page, duration, nil
	}
	c.rewind = func() error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		lastGranule = 0
		reader, _, err = oggreader.NewWith(file)
		return err
	}
	return c, nil
}

type fileStream struct {
	clock    clock.Clock
	captures []*capture
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (s *fileStream) start() {
	for _, c := range s.captures {
		s.wg.Add(1)
		go func(c *capture) {
			defer s.wg.Done()
			s.pump(c)
		}(c)
	}
}

// pump paces samples from one capture onto its track until Stop.
func (s *fileStream) pump(c *capture) {
	ticker := s.clock.Ticker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		data, duration, err := c.next()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if err := c.rewind(); err != nil {
				slog.Warn("capture rewind failed", "kind", c.kind, "error", err)
				return
			}
			continue
		}
		if err != nil {
			slog.Warn("capture read failed", "kind", c.kind, "error", err)
			return
		}

		if !c.enabled.Load() {
			continue
		}
		if err := c.track.WriteSample(media.Sample{Data: data, Duration: duration}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			slog.Debug("write sample failed", "kind", c.kind, "error", err)
		}
	}
}

func (s *fileStream) find(kind Kind) *capture {
	for _, c := range s.captures {
		if c.kind == kind {
			return c
		}
	}
	return nil
}

func (s *fileStream) Tracks() []webrtc.TrackLocal {
	tracks := make([]webrtc.TrackLocal, 0, len(s.captures))
	for _, c := range s.captures {
		tracks = append(tracks, c.track)
	}
	return tracks
}

func (s *fileStream) Has(kind Kind) bool {
	return s.find(kind) != nil
}

// SetEnabled toggles a track and returns the resulting state; false if the
// stream has no track of that kind.
func (s *fileStream) SetEnabled(kind Kind, on bool) bool {
	c := s.find(kind)
	if c == nil {
		return false
	}
	c.enabled.Store(on)
	return on
}

func (s *fileStream) Enabled(kind Kind) bool {
	c := s.find(kind)
	return c != nil && c.enabled.Load()
}

// Stop halts capture and closes the files. Safe to call more than once.
func (s *fileStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		for _, c := range s.captures {
			c.file.Close()
		}
	})
}
