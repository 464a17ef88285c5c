// Package chat keeps the room's chat transcript.
package chat

import (
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// Kind distinguishes user messages from system notifications.
type Kind int

const (
	Message Kind = iota
	Notification
	Tutor
)

// Entry is one line of the transcript.
type Entry struct {
	Kind     Kind
	Username string
	Text     string
	Time     time.Time
	Own      bool
}

// Log is an append-only transcript. It is owned by the room session loop.
type Log struct {
	entries []Entry
	limit   int
}

// NewLog creates a log keeping at most limit entries; zero keeps everything.
func NewLog(limit int) *Log {
	return &Log{limit: limit}
}

// AddMessage appends a chat message. Text is stripped of terminal escape
// sequences and control characters.
func (l *Log) AddMessage(username, text string, at time.Time, own bool) Entry {
	return l.add(Entry{
		Kind:     Message,
		Username: Sanitize(username),
		Text:     Sanitize(text),
		Time:     at,
		Own:      own,
	})
}

// AddNotification appends a system line such as "bob joined the call".
func (l *Log) AddNotification(text string, at time.Time) Entry {
	return l.add(Entry{Kind: Notification, Text: Sanitize(text), Time: at})
}

// AddTutor appends one side of a private AI tutor exchange. Tutor entries
// are never sent to the room.
func (l *Log) AddTutor(username, text string, at time.Time, own bool) Entry {
	return l.add(Entry{
		Kind:     Tutor,
		Username: Sanitize(username),
		Text:     text,
		Time:     at,
		Own:      own,
	})
}

func (l *Log) add(e Entry) Entry {
	l.entries = append(l.entries, e)
	if l.limit > 0 && len(l.entries) > l.limit {
		l.entries = l.entries[len(l.entries)-l.limit:]
	}
	return e
}

// Entries returns a copy of the transcript, oldest first.
func (l *Log) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Sanitize removes escape sequences and control characters other than tab.
func Sanitize(s string) string {
	s = ansi.Strip(s)
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
