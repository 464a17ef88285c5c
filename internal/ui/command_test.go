package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualcafe/cafe/internal/timer"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"", Command{Kind: CmdNone}},
		{"   ", Command{Kind: CmdNone}},
		{"hello everyone", Command{Kind: CmdChat, Text: "hello everyone"}},
		{"  padded  ", Command{Kind: CmdChat, Text: "padded"}},
		{"//not a command", Command{Kind: CmdChat, Text: "/not a command"}},
		{"/call", Command{Kind: CmdCall}},
		{"/CALL", Command{Kind: CmdCall}},
		{"/end", Command{Kind: CmdEnd}},
		{"/mic", Command{Kind: CmdMic}},
		{"/cam", Command{Kind: CmdCam}},
		{"/timer", Command{Kind: CmdTimerStart}},
		{"/timer start", Command{Kind: CmdTimerStart}},
		{"/timer pause", Command{Kind: CmdTimerPause}},
		{"/timer reset", Command{Kind: CmdTimerReset}},
		{"/timer 45", Command{Kind: CmdTimerSet, Minutes: 45}},
		{"/timer focus", Command{Kind: CmdTimerPreset, Minutes: 25}},
		{"/timer deep", Command{Kind: CmdTimerPreset, Minutes: 50}},
		{"/timer short", Command{Kind: CmdTimerPreset, Minutes: 5}},
		{"/timer long", Command{Kind: CmdTimerPreset, Minutes: 15}},
		{"/ask what is entropy?", Command{Kind: CmdAsk, Text: "what is entropy?"}},
		{"/leave", Command{Kind: CmdLeave}},
		{"/help", Command{Kind: CmdHelp}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	_, err := ParseCommand("/dance")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = ParseCommand("/ask")
	assert.ErrorIs(t, err, ErrUsage)

	_, err = ParseCommand("/timer soon")
	assert.ErrorIs(t, err, ErrUsage)

	_, err = ParseCommand("/timer 0")
	assert.ErrorIs(t, err, timer.ErrOutOfRange)

	_, err = ParseCommand("/timer 121")
	assert.ErrorIs(t, err, timer.ErrOutOfRange)
}
