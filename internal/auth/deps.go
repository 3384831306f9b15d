package auth

import (
	"log/slog"
	"time"

	"github.com/nerrad567/retail-auth-core/internal/audit"
)

// Deps are the collaborators shared by the core components.
type Deps struct {
	Users   UserRepository
	Roles   RoleRepository
	Hasher  PasswordHasher
	Audit   *audit.Emitter
	Metrics *Metrics
	Logger  *slog.Logger
	// Clock defaults to time.Now. Tests substitute a simulated clock.
	Clock func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

func (d Deps) now() time.Time {
	return d.Clock().UTC()
}
