package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/virtualcafe/cafe/internal/timer"
)

// CommandKind identifies what a line typed in the room asks for.
type CommandKind int

const (
	CmdNone CommandKind = iota
	CmdChat
	CmdCall
	CmdEnd
	CmdMic
	CmdCam
	CmdTimerStart
	CmdTimerPause
	CmdTimerReset
	CmdTimerSet
	CmdTimerPreset
	CmdAsk
	CmdLeave
	CmdHelp
)

var (
	ErrUnknownCommand = errors.New("unknown command, type /help")
	ErrUsage          = errors.New("usage")
)

// Command is a parsed input line.
type Command struct {
	Kind    CommandKind
	Text    string
	Minutes int
}

// CommandHelp lists the room commands in display order.
var CommandHelp = [][2]string{
	{"<text>", "Send a chat message to the room"},
	{"/call", "Start a video call"},
	{"/end", "End the call"},
	{"/mic", "Mute or unmute your microphone"},
	{"/cam", "Turn your camera on or off"},
	{"/timer start|pause|reset", "Control the study timer"},
	{"/timer <minutes>", fmt.Sprintf("Set a custom length (%d-%d)", timer.MinMinutes, timer.MaxMinutes)},
	{"/timer focus|deep|short|long", "Use a preset length"},
	{"/ask <question>", "Ask the AI tutor (only you see the answer)"},
	{"/leave", "Leave the room"},
	{"/help", "Show this help"},
}

// ParseCommand turns an input line into a Command. Lines that do not start
// with a slash are chat; a doubled slash sends a literal one.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Kind: CmdNone}, nil
	}
	if strings.HasPrefix(line, "//") {
		return Command{Kind: CmdChat, Text: line[1:]}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: CmdChat, Text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "call":
		return Command{Kind: CmdCall}, nil
	case "end", "hangup":
		return Command{Kind: CmdEnd}, nil
	case "mic", "mute":
		return Command{Kind: CmdMic}, nil
	case "cam", "camera", "video":
		return Command{Kind: CmdCam}, nil
	case "timer":
		return parseTimer(rest)
	case "ask":
		if rest == "" {
			return Command{}, fmt.Errorf("%w: /ask <question>", ErrUsage)
		}
		return Command{Kind: CmdAsk, Text: rest}, nil
	case "leave", "quit", "exit":
		return Command{Kind: CmdLeave}, nil
	case "help", "?":
		return Command{Kind: CmdHelp}, nil
	}
	return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
}

func parseTimer(arg string) (Command, error) {
	switch arg = strings.ToLower(arg); arg {
	case "", "start":
		return Command{Kind: CmdTimerStart}, nil
	case "pause", "stop":
		return Command{Kind: CmdTimerPause}, nil
	case "reset":
		return Command{Kind: CmdTimerReset}, nil
	}

	if minutes, ok := presetMinutes(arg); ok {
		return Command{Kind: CmdTimerPreset, Minutes: minutes}, nil
	}

	minutes, err := strconv.Atoi(arg)
	if err != nil {
		return Command{}, fmt.Errorf("%w: /timer start|pause|reset|<minutes>", ErrUsage)
	}
	if minutes < timer.MinMinutes || minutes > timer.MaxMinutes {
		return Command{}, timer.ErrOutOfRange
	}
	return Command{Kind: CmdTimerSet, Minutes: minutes}, nil
}

// presetMinutes matches a preset by the first word of its name.
func presetMinutes(arg string) (int, bool) {
	for _, p := range timer.Presets {
		if first, _, _ := strings.Cut(strings.ToLower(p.Name), " "); first == arg {
			return p.Minutes, true
		}
	}
	return 0, false
}
