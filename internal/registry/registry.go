package registry

import (
	"strconv"
	"strings"
	"sync"

	"shelly2mqtt/internal/core/domain"

	"go.uber.org/zap"
)

// Registry holds the routing snapshot: one LogicalDevice per (physical id,
// channel) pair. The snapshot is only ever replaced wholesale by Rebuild,
// never mutated in place, so concurrent readers can't observe a partial
// update. A rebuild failure keeps the previous snapshot, stale but
// available beats empty.
type Registry struct {
	store  Store
	logger *zap.Logger

	mu       sync.RWMutex
	snapshot []*domain.LogicalDevice
}

func New(store Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.With(zap.String("component", "registry")),
	}
}

// Rebuild queries the device store and replaces the snapshot. Value caches of
// devices that survive the rebuild are carried over so idempotent commits
// keep working across pairing churn. Errors are logged, not returned: a
// failed rebuild is a missed refresh, not a crash.
func (r *Registry) Rebuild() int {
	profiles, err := r.store.Profiles()
	if err != nil {
		r.logger.Error("registry rebuild failed, keeping previous snapshot", zap.Error(err))
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.snapshot)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous := make(map[string]*domain.LogicalDevice, len(r.snapshot))
	for _, dev := range r.snapshot {
		previous[dev.ID] = dev
	}

	var next []*domain.LogicalDevice
	for _, p := range profiles {
		mode, err := domain.ParseCommMode(p.Mode)
		if err != nil {
			r.logger.Warn("skipping device with invalid mode",
				zap.String("device", p.ID), zap.String("mode", p.Mode))
			continue
		}
		model := domain.ModelByID(p.Model)
		for ch := 0; ch < model.Channels; ch++ {
			// the device is always rebuilt from the profile so edits to mode,
			// model or address take effect; only the value cache survives
			dev := domain.NewLogicalDevice(p, ch, mode, model)
			if old, ok := previous[dev.ID]; ok && old.MainID == dev.MainID {
				dev.AdoptCache(old)
			}
			next = append(next, dev)
		}
	}
	r.snapshot = next
	r.logger.Debug("registry rebuilt", zap.Int("devices", len(next)))
	return len(next)
}

// Snapshot returns the current membership. The slice is shared; callers must
// not mutate it.
func (r *Registry) Snapshot() []*domain.LogicalDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Device returns the logical device with the exact id.
func (r *Registry) Device(id string) (*domain.LogicalDevice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dev := range r.snapshot {
		if dev.ID == id {
			return dev, true
		}
	}
	return nil, false
}

// Hint narrows Resolve when a raw message addresses one channel of a
// multi-channel unit. An entirely empty hint means the event concerns the
// whole physical device and fans out to every channel.
type Hint struct {
	// Channel is an explicit channel number carried by the message.
	Channel *int
	// Component is a "type:N" sub-component tag ("switch:1", "em1:0").
	Component string
	// Field is a raw field name whose trailing digit may encode the channel.
	Field string
}

func (h Hint) empty() bool {
	return h.Channel == nil && h.Component == "" && h.Field == ""
}

// Resolve maps a raw identifier from an inbound message (MAC fragment, hex
// id, hostname fragment) to the logical devices it addresses. No match is an
// empty result, not an error: unmatched events are expected during pairing
// races and the caller drops them at debug level.
func (r *Registry) Resolve(rawID string, hint Hint) []*domain.LogicalDevice {
	raw := strings.ToLower(strings.TrimSpace(rawID))
	if raw == "" {
		return nil
	}

	r.mu.RLock()
	snapshot := r.snapshot
	r.mu.RUnlock()

	var candidates []*domain.LogicalDevice
	for _, dev := range snapshot {
		if matchesRawID(dev, raw) {
			candidates = append(candidates, dev)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 || hint.empty() {
		// a single match implicitly addresses channel 0; with no hint at
		// all the event concerns every channel (full-status fan-out)
		return candidates
	}

	channel := hint.channel()
	var out []*domain.LogicalDevice
	for _, dev := range candidates {
		if dev.Channel == channel {
			out = append(out, dev)
		}
	}
	return out
}

func (h Hint) channel() int {
	if h.Channel != nil {
		return *h.Channel
	}
	if h.Component != "" {
		if i := strings.IndexByte(h.Component, ':'); i >= 0 {
			if n, err := strconv.Atoi(h.Component[i+1:]); err == nil {
				return n
			}
		}
	}
	if h.Field != "" {
		return channelFromField(h.Field)
	}
	return 0
}

func matchesRawID(dev *domain.LogicalDevice, raw string) bool {
	main := strings.ToLower(dev.MainID)
	if strings.Contains(main, raw) || strings.Contains(raw, main) {
		return true
	}
	return dev.Address != "" && strings.EqualFold(dev.Address, raw)
}

// field names whose digits belong to the name, not a channel suffix
var numericFieldNames = map[string]bool{
	"em1":    true,
	"pm1":    true,
	"input1": false, // input1 really is channel 1
}

// channelFromField extracts a channel index from a trailing digit in a raw
// field name ("relay1" -> 1). Absence of a trailing digit means channel 0.
// This heuristic is known to be fragile, since a numeric suffix can be part
// of the field's own name, which is why it lives behind Resolve and nowhere
// else.
func channelFromField(field string) int {
	if isName, known := numericFieldNames[strings.ToLower(field)]; known && isName {
		return 0
	}
	i := len(field)
	for i > 0 && field[i-1] >= '0' && field[i-1] <= '9' {
		i--
	}
	if i == len(field) || i == 0 {
		return 0
	}
	n, err := strconv.Atoi(field[i:])
	if err != nil {
		return 0
	}
	return n
}
