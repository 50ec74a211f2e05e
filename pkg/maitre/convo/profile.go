package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasvidela/maitre/pkg/maitre/store"
)

const partProfile = "profile"

// Profile is the durable per-sender record: a name the assistant learned
// and deduplicated facts worth remembering. It survives conversation
// expiry and is cleared only by an explicit "forget me".
type Profile struct {
	Handle    string    `json:"handle"`
	Name      string    `json:"name,omitempty"`
	Facts     []string  `json:"facts,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Profiles stores per-sender profiles.
type Profiles struct {
	store  store.Store
	logger *slog.Logger
}

// NewProfiles creates a profile store.
func NewProfiles(s store.Store, logger *slog.Logger) *Profiles {
	return &Profiles{
		store:  s,
		logger: logger.With("component", "convo.profiles"),
	}
}

// Get returns the profile for handle, or nil when none exists.
func (p *Profiles) Get(ctx context.Context, handle string) (*Profile, error) {
	raw, found, err := p.store.Get(ctx, profileKey(handle))
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	if !found {
		return nil, nil
	}

	var profile Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		p.logger.Warn("profile record malformed, treating as absent", "handle", handle)
		return nil, nil
	}
	return &profile, nil
}

// AddFact appends a fact if it is not already present. Returns whether the
// fact was newly added — adding the same fact twice is a no-op.
func (p *Profiles) AddFact(ctx context.Context, handle, fact string) (bool, error) {
	added := false
	err := p.update(ctx, handle, func(profile *Profile) {
		for _, existing := range profile.Facts {
			if existing == fact {
				return
			}
		}
		profile.Facts = append(profile.Facts, fact)
		added = true
	})
	return added, err
}

// SetName records the sender's name.
func (p *Profiles) SetName(ctx context.Context, handle, name string) error {
	return p.update(ctx, handle, func(profile *Profile) {
		profile.Name = name
	})
}

// Touch refreshes LastSeen, creating the profile on first contact.
func (p *Profiles) Touch(ctx context.Context, handle string) error {
	return p.update(ctx, handle, func(*Profile) {})
}

// Clear erases the profile (the "forget me" command).
func (p *Profiles) Clear(ctx context.Context, handle string) error {
	if err := p.store.Delete(ctx, profileKey(handle)); err != nil {
		return fmt.Errorf("clearing profile: %w", err)
	}
	return nil
}

func (p *Profiles) update(ctx context.Context, handle string, fn func(*Profile)) error {
	return p.store.Update(ctx, profileKey(handle), func(old []byte, found bool) ([]byte, time.Duration, error) {
		now := time.Now().UTC()
		profile := Profile{Handle: handle, FirstSeen: now}
		if found {
			if err := json.Unmarshal(old, &profile); err != nil {
				p.logger.Warn("profile record malformed, recreating", "handle", handle)
				profile = Profile{Handle: handle, FirstSeen: now}
			}
		}
		profile.LastSeen = now

		fn(&profile)

		next, err := json.Marshal(profile)
		return next, 0, err
	})
}

func profileKey(handle string) store.Key {
	return store.Key{Partition: partProfile, Sort: handle}
}
