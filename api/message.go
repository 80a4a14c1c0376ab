package api

import "time"

// Message is the object the messaging endpoint returns for a created message.
// Only the fields relaygo reads are decoded.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Author    *Author   `json:"author,omitempty"`
}

// Author identifies who posted a message.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot,omitempty"`
}
