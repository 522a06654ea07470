package chat

import (
	"time"

	"github.com/hikkinomore/buddy-server/internal/model/preset"
)

// Session captures a durable conversation owned by a single user. Sessions are
// created implicitly on first write and never deleted.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Preset    preset.ID `json:"preset"`
	CreatedAt time.Time `json:"createdAt"`
}
