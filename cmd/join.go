package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"github.com/virtualcafe/cafe/internal/call"
	"github.com/virtualcafe/cafe/internal/config"
	"github.com/virtualcafe/cafe/internal/dns"
	"github.com/virtualcafe/cafe/internal/media"
	"github.com/virtualcafe/cafe/internal/room"
	"github.com/virtualcafe/cafe/internal/signaling"
	"github.com/virtualcafe/cafe/internal/ui"
	"github.com/virtualcafe/cafe/internal/utils"
)

var (
	flagJoinSTUN      string
	flagJoinTURN      string
	flagJoinTURNUser  string
	flagJoinTURNPass  string
	flagJoinRelay     bool
	flagJoinVideo     string
	flagJoinAudio     string
	flagJoinRecordDir string
	flagJoinMembers   int
)

var joinCmd = &cobra.Command{
	Use:     "join <room-code|url>",
	Aliases: []string{"j"},
	Short:   "Join a study room",
	Long: `Join a study room to chat, call and study together.

Video and audio for calls are read from an IVF (VP8/VP9) and an Ogg (Opus) file
and looped. Remote tracks can be recorded with --record-dir.

Examples:
  cafe join abc123
  cafe join https://cafe.example.com/rooms/abc123/
  cafe join abc123 --video me.ivf --audio me.ogg --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return joinRoom(cmd.Context(), code)
	},
}

func joinRoom(ctx context.Context, code string) error {
	cfg, err := LoadConfig(func(o *config.Options) {
		o.STUNServer = flagJoinSTUN
		o.TURNServer = flagJoinTURN
		o.TURNUser = flagJoinTURNUser
		o.TURNPass = flagJoinTURNPass
		o.ForceRelay = flagJoinRelay
		o.VideoFile = flagJoinVideo
		o.AudioFile = flagJoinAudio
		o.RecordDir = flagJoinRecordDir
		o.Members = flagJoinMembers
	})
	if err != nil {
		return err
	}
	if err := requireLogin(cfg); err != nil {
		return err
	}

	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	tut, err := backend.Tutor(ctx)
	if err != nil {
		return err
	}

	channel := signaling.NewChannel(cfg.SignalingURL(code),
		signaling.WithDialer(&signaling.WebsocketDialer{
			Jar:      backend.Jar,
			Origin:   cfg.Origin(),
			Resolver: dns.Default,
		}),
		signaling.WithReconnectDelay(cfg.ReconnectDelay),
	)

	bridge := ui.NewBridge()
	session, err := room.New(room.Options{
		Room:     code,
		Identity: cfg.Username,
		Members:  cfg.Members,
		Channel:  channel,
		Source: &media.FileSource{
			VideoPath: cfg.VideoFile,
			AudioPath: cfg.AudioFile,
			StreamID:  "cafe-" + cfg.Username,
		},
		NewPeer:        call.PionPeers(cfg),
		Consume:        recordRemote(cfg.RecordDir),
		Saver:          backend.Client,
		Tutor:          tut,
		View:           bridge,
		OfferDelay:     cfg.OfferDelay,
		JoinOfferDelay: cfg.JoinOfferDelay,
	})
	if err != nil {
		return err
	}

	info := ui.RoomInfo{Code: code, Link: cfg.RoomLink(code), Identity: cfg.Username}
	fmt.Println(info.View())

	done := make(chan error, 1)
	go func() {
		done <- session.Run(ctx)
		bridge.Close()
	}()

	program := tea.NewProgram(ui.NewRoomModel(session, bridge, info), tea.WithAltScreen(), tea.WithContext(ctx))
	_, uiErr := program.Run()

	session.Leave()
	runErr := <-done

	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return call.NewError("room view", uiErr)
	}
	if runErr != nil {
		return runErr
	}
	ui.PrintSuccessf("Left room %s", code)
	return nil
}

// recordRemote drains remote tracks, saving them under dir when set.
func recordRemote(dir string) func(remote string, kind media.Kind, track *webrtc.TrackRemote) {
	return func(remote string, kind media.Kind, track *webrtc.TrackRemote) {
		sink := &media.Sink{Dir: dir, Remote: remote}
		received, err := sink.Consume(track)
		attrs := []any{"from", remote, "kind", kind, "packets", received.Packets, "size", utils.FormatSize(received.Bytes)}
		if received.Path != "" {
			attrs = append(attrs, "path", received.Path)
		}
		if err != nil {
			slog.Warn("remote track ended with error", append(attrs, "error", err)...)
			return
		}
		slog.Info("remote track ended", attrs...)
	}
}

func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room code cannot be empty")
	}

	code := input
	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		var err error
		if code, err = extractRoomCodeFromURL(input); err != nil {
			return "", err
		}
	}

	if !room.ValidRoomCode(code) {
		return "", fmt.Errorf("%w: %q", room.ErrInvalidRoom, code)
	}
	return code, nil
}

func extractRoomCodeFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", call.NewError("parse URL", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "rooms" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("could not extract room code from URL: %s", urlStr)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagJoinSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagJoinTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagJoinRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().StringVar(&flagJoinVideo, "video", "", "IVF (VP8/VP9) file to use as your camera")
	joinCmd.Flags().StringVar(&flagJoinAudio, "audio", "", "Ogg (Opus) file to use as your microphone")
	joinCmd.Flags().StringVarP(&flagJoinRecordDir, "record-dir", "d", "", "Directory to record remote audio and video")
	joinCmd.Flags().IntVarP(&flagJoinMembers, "members", "m", 0, "Number of people already in the room")
}
