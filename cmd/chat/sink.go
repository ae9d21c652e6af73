package main

import (
	"fmt"
	"time"

	"github.com/toonchat/compass/internal/domain"
)

// consoleSink renders core events to stdout. Peer handles and message
// text are attacker-controlled; they are printed as plain text, never
// interpreted.
type consoleSink struct{}

func formatClock(millis int64) string {
	return time.UnixMilli(millis).Format("15:04")
}

// Joins and leaves already arrive as notices; the dedicated variants are
// for hosts that track a roster view.
func (consoleSink) PeerJoined(handle string) {}
func (consoleSink) PeerLeft(handle string)   {}

func (consoleSink) MessageReceived(msg domain.ChatMessage) {
	fmt.Printf("[%s] %s: %s\n", formatClock(msg.TimestampMillis), msg.Sender, msg.Text)
}

func (consoleSink) PresenceChanged(count int) {
	label := "Peers"
	if count == 1 {
		label = "Peer"
	}
	fmt.Printf("* %d %s\n", count, label)
}

func (consoleSink) ConnectionError(err error) {
	fmt.Printf("* Connection error: %v\n", err)
}

func (consoleSink) Notice(text string) {
	fmt.Printf("* %s\n", text)
}
