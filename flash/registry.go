package flash

import (
	"context"
	"fmt"
	"sync"

	"github.com/flashcore/flashcore/flash/power"
)

// registryEntry is either a bound driver or a forwarding alias,
// mirroring spec.md §3's registryEntry union.
type registryEntry struct {
	driver Driver
	alias  ImageType
}

// Registry binds image types to drivers for one target, resolving
// aliases at lookup time. It is grounded on the teacher's device
// manager's mutex-protected registration map
// (client/devicemanager/manager_test.go), simplified since a flash
// registry has no plugin lifecycle to track.
type Registry struct {
	mu      sync.RWMutex
	entries map[ImageType]registryEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[ImageType]registryEntry)}
}

// Register binds imageType directly to driver, replacing any previous
// binding or alias for that image type.
func (r *Registry) Register(imageType ImageType, driver Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[imageType] = registryEntry{driver: driver}
}

// Alias makes imageType forward to target's binding. target need not
// exist yet at the time Alias is called.
func (r *Registry) Alias(imageType, target ImageType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[imageType] = registryEntry{alias: target}
}

// Resolve walks any chain of aliases starting at imageType and returns
// the bound driver together with the terminal image type (the one the
// driver was actually Register-ed under), so callers can key their
// images map by the driver's own notion of the type.
//
// The walk is bounded by len(entries)+1 steps; exceeding that is treated
// as a cycle even if one hasn't strictly formed yet, since a
// legitimate alias chain can never be longer than the number of
// registered entries.
func (r *Registry) Resolve(imageType ImageType) (Driver, ImageType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cur := imageType
	limit := len(r.entries) + 1
	for i := 0; i < limit; i++ {
		entry, ok := r.entries[cur]
		if !ok {
			return nil, "", fmt.Errorf("unknown image type %q", imageType)
		}
		if entry.driver != nil {
			return entry.driver, cur, nil
		}
		cur = entry.alias
	}
	return nil, "", fmt.Errorf("alias cycle detected resolving image type %q", imageType)
}

// listTypesAndAliases returns every directly bound image type and a
// map of alias name to its immediate target (not walked to the
// terminal driver, so callers can see the forwarding structure).
func (r *Registry) listTypesAndAliases() ([]ImageType, map[ImageType]ImageType) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var types []ImageType
	aliases := make(map[ImageType]ImageType)
	for imageType, entry := range r.entries {
		if entry.driver != nil {
			types = append(types, imageType)
		} else {
			aliases[imageType] = entry.alias
		}
	}
	return types, aliases
}

// Validate calls SequenceVerify on rail for every registered driver's
// pre/post power sequences, catching a misconfigured sequence at setup
// time rather than at first flash.
func (r *Registry) Validate(ctx context.Context, target Target, rail power.Rail) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Driver]bool)
	for imageType, entry := range r.entries {
		if entry.driver == nil || seen[entry.driver] {
			continue
		}
		seen[entry.driver] = true
		meta := entry.driver.Metadata()
		if len(meta.PreSequence) > 0 {
			if err := rail.SequenceVerify(ctx, target.ID(), meta.PreSequence, string(imageType)+" pre"); err != nil {
				return fmt.Errorf("validating pre-sequence for %q: %w", imageType, err)
			}
		}
		if len(meta.PostSequence) > 0 {
			if err := rail.SequenceVerify(ctx, target.ID(), meta.PostSequence, string(imageType)+" post"); err != nil {
				return fmt.Errorf("validating post-sequence for %q: %w", imageType, err)
			}
		}
	}
	return nil
}
