package models

import "time"

// PushSubscription is an opaque device token registered by the client.
type PushSubscription struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	Token      string    `db:"token" json:"token"`
	Platform   string    `db:"platform" json:"platform"`
	UserAgent  string    `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	LastSeenAt time.Time `db:"last_seen_at" json:"last_seen_at"`
}

// RegisterPushRequest is sent by the client after obtaining a push token.
type RegisterPushRequest struct {
	Token     string `json:"token" validate:"required,max=4096"`
	Platform  string `json:"platform" validate:"omitempty,oneof=web android ios"`
	UserAgent string `json:"-"`
}

// RegisterPushResponse tells the client whether push is active server-side.
type RegisterPushResponse struct {
	Enabled      bool              `json:"enabled"`
	Subscription *PushSubscription `json:"subscription,omitempty"`
}

// PushData carries the deep-link target.
type PushData struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
}

// PushPayload is the outbound message shape {title, body, data:{id,url}}.
type PushPayload struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Icon  string   `json:"icon,omitempty"`
	Tag   string   `json:"tag,omitempty"`
	Data  PushData `json:"data"`
}

// PublishAnnouncementRequest creates a global announcement.
type PublishAnnouncementRequest struct {
	Heading string `json:"heading" validate:"required,max=200"`
	Content string `json:"content" validate:"required"`
	Kind    string `json:"kind" validate:"omitempty,max=50"`
	Push    *bool  `json:"push"`
}

// PushReport summarises a fan-out.
type PushReport struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Pruned    int `json:"pruned"`
	Failed    int `json:"failed"`
}
