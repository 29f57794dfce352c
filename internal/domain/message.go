package domain

import "time"

// InboundEvent is a single user text message delivered by a platform webhook.
type InboundEvent struct {
	Platform   string
	ReplyToken string // opaque, single use; only meaningful to Platform
	SenderID   string
	Text       string
	Timestamp  time.Time
}

// Reply is the text sent back to the conversation that produced an event.
type Reply struct {
	Platform   string
	ReplyToken string
	Text       string
}
