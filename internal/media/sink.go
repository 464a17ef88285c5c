package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/virtualcafe/cafe/internal/utils"
)

// Received summarizes one drained remote track.
type Received struct {
	Kind    Kind
	Packets int
	Bytes   int64
	Path    string
}

// Sink drains remote tracks, optionally recording them under Dir.
type Sink struct {
	Dir    string
	Remote string
	Clock  clock.Clock
}

type recorder interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// Consume reads track until it ends. The returned summary is valid even when
// the error is non-nil.
func (s *Sink) Consume(track *webrtc.TrackRemote) (Received, error) {
	kind := Audio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = Video
	}
	return s.consume(kind, track.Codec().RTPCodecCapability, func() (*rtp.Packet, error) {
		packet, _, err := track.ReadRTP()
		return packet, err
	})
}

func (s *Sink) consume(kind Kind, codec webrtc.RTPCodecCapability, read func() (*rtp.Packet, error)) (Received, error) {
	received := Received{Kind: kind}

	rec, path, err := s.recorder(kind, codec)
	if err != nil {
		slog.Warn("remote track will not be recorded", "kind", kind, "codec", codec.MimeType, "error", err)
	}
	if rec != nil {
		received.Path = path
		defer rec.Close()
	}

	for {
		packet, err := read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			slog.Debug("remote track ended", "kind", kind, "size", utils.FormatSize(received.Bytes))
			return received, err
		}

		received.Packets++
		received.Bytes += int64(len(packet.Payload))

		if rec != nil {
			if err := rec.WriteRTP(packet); err != nil {
				slog.Warn("recording failed, continuing without it", "path", path, "error", err)
				rec.Close()
				rec = nil
			}
		}
	}
}

func (s *Sink) recorder(kind Kind, codec webrtc.RTPCodecCapability) (recorder, string, error) {
	if s.Dir == "" {
		return nil, "", nil
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, "", err
	}

	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	base := fmt.Sprintf("%s-%s-%d", safeName(s.Remote), kind, clk.Now().Unix())

	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8):
		path := utils.UniqueFilename(filepath.Join(s.Dir, base+".ivf"))
		w, err := ivfwriter.New(path)
		return w, path, err
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus):
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		rate := codec.ClockRate
		if rate == 0 {
			rate = opusSampleRate
		}
		path := utils.UniqueFilename(filepath.Join(s.Dir, base+".ogg"))
		w, err := oggwriter.New(path, rate, channels)
		return w, path, err
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupported, codec.MimeType)
	}
}

var unsafeChars = regexp.MustCompile(`[^\w.-]+`)

func safeName(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	if name == "" {
		return "remote"
	}
	return name
}
