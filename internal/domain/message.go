package domain

import "time"

// ChatMessage is immutable once stored. Text and Sender are untrusted
// peer-controlled strings; escaping is the renderer's job.
type ChatMessage struct {
	Text            string `json:"text"`
	Sender          string `json:"sender"`
	TimestampMillis int64  `json:"timestamp"`
	IsOwn           bool   `json:"isOwn"`
}

// NewOwnMessage stamps a locally sent message. IsOwn is set here once and
// never recomputed.
func NewOwnMessage(handle, text string) ChatMessage {
	return ChatMessage{
		Text:            text,
		Sender:          handle,
		TimestampMillis: time.Now().UnixMilli(),
		IsOwn:           true,
	}
}
