package services

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shuttle/internal/clock"
	"shuttle/internal/events"
)

// Deps are the collaborators every service shares. Zero values fall back to
// production defaults so tests only set what they care about.
type Deps struct {
	Clock  clock.Clock
	Events events.Publisher
	Log    *zap.Logger
	NewID  func() string
}

func (d Deps) now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}
	return d.Clock.Now()
}

func (d Deps) events() events.Publisher {
	if d.Events == nil {
		return events.Nop{}
	}
	return d.Events
}

func (d Deps) log() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

func (d Deps) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}
