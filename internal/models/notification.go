package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ChannelInApp = "in_app"
	ChannelPush  = "push"
	ChannelEmail = "email"
)

type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      string
	Title     string
	Message   string
	Data      map[string]any
	Channels  []string
	CreatedAt time.Time
}
