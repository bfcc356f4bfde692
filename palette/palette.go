// Package palette assigns player colors. A player that asks for a valid
// color gets it; otherwise the player gets the color remembered for its
// username, or a fresh random one that is remembered for next time.
package palette

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cyberinferno/dotgame/event"
)

// Store remembers the color assigned to each username. Implementations must
// be safe for concurrent use.
type Store interface {
	// GetOrAssign returns the color stored for username. On a miss it calls
	// assign, stores the result, and returns it. Concurrent misses for the
	// same username resolve to a single stored color.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - username: The player name to look up
	//   - assign: Produces a color when none is stored
	//
	// Returns:
	//   - The stored or newly assigned color
	//   - An error if the backing store fails
	GetOrAssign(ctx context.Context, username string, assign func() string) (string, error)

	// Set stores color for username, replacing any previous value.
	Set(ctx context.Context, username, color string) error

	// Delete forgets username. Deleting an unknown username is not an error.
	Delete(ctx context.Context, username string) error

	// Len returns the number of remembered usernames.
	Len(ctx context.Context) (int, error)
}

// RandomColor returns a uniformly random 24-bit color formatted as #RRGGBB.
func RandomColor() string {
	return fmt.Sprintf("#%06X", rand.Intn(0x1000000))
}

// Assigner resolves the color a joining player ends up with.
type Assigner struct {
	store  Store
	random func() string
}

// NewAssigner creates an Assigner backed by store. A nil store disables
// color memory: every player without a requested color gets a random one.
func NewAssigner(store Store) *Assigner {
	return &Assigner{store: store, random: RandomColor}
}

// Assign returns the color for username.
//
// A requested color matching #RRGGBB wins and is remembered. Otherwise the
// remembered color is reused, or a random one generated. When the store
// fails, Assign still returns a usable color together with the error so the
// caller can log it and carry on.
func (a *Assigner) Assign(ctx context.Context, username, requested string) (string, error) {
	if event.IsColor(requested) {
		if a.store == nil {
			return requested, nil
		}
		if err := a.store.Set(ctx, username, requested); err != nil {
			return requested, fmt.Errorf("remember color for %s: %w", username, err)
		}
		return requested, nil
	}

	if a.store == nil {
		return a.random(), nil
	}

	color, err := a.store.GetOrAssign(ctx, username, a.random)
	if err != nil || !event.IsColor(color) {
		fallback := a.random()
		if err == nil {
			err = fmt.Errorf("stored color %q for %s is invalid", color, username)
		}
		return fallback, fmt.Errorf("recall color for %s: %w", username, err)
	}

	return color, nil
}

// Forget drops the remembered color for username so its next join without a
// requested color gets a fresh one.
func (a *Assigner) Forget(ctx context.Context, username string) error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Delete(ctx, username); err != nil {
		return fmt.Errorf("forget color for %s: %w", username, err)
	}
	return nil
}

// Remembered returns how many usernames currently have a remembered color.
func (a *Assigner) Remembered(ctx context.Context) (int, error) {
	if a.store == nil {
		return 0, nil
	}
	n, err := a.store.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("count remembered colors: %w", err)
	}
	return n, nil
}
