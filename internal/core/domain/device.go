package domain

import (
	"fmt"
	"strings"
	"sync"
)

// CommMode selects the transport a device is driven over. It is a closed set:
// the dispatcher and the lifecycle manager switch over it exhaustively.
type CommMode int

const (
	// ModePush devices announce state over CoIoT and accept plain HTTP commands.
	ModePush CommMode = iota
	// ModeSocket devices keep an outbound local WebSocket RPC session open.
	ModeSocket
	// ModePoll devices are polled over local HTTP.
	ModePoll
	// ModeCloud devices are reached through the vendor cloud relay.
	ModeCloud
	// ModeHardwareLink devices are wired behind another unit; they carry no
	// transport session of their own.
	ModeHardwareLink
)

func (m CommMode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModeSocket:
		return "socket"
	case ModePoll:
		return "poll"
	case ModeCloud:
		return "cloud"
	case ModeHardwareLink:
		return "hwlink"
	}
	return fmt.Sprintf("commmode(%d)", int(m))
}

func ParseCommMode(s string) (CommMode, error) {
	switch strings.ToLower(s) {
	case "push", "coiot":
		return ModePush, nil
	case "socket", "websocket", "ws":
		return ModeSocket, nil
	case "poll", "http":
		return ModePoll, nil
	case "cloud":
		return ModeCloud, nil
	case "hwlink", "hardware":
		return ModeHardwareLink, nil
	}
	return 0, fmt.Errorf("unknown communication mode %q", s)
}

// DeviceProfile is the pairing-time description of one physical unit, as kept
// in the device store. The registry expands it into one LogicalDevice per
// channel.
type DeviceProfile struct {
	ID       string `json:"id"`
	Model    string `json:"model"`
	Address  string `json:"address"`
	Mode     string `json:"mode"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// LogicalDevice is one addressable channel of a physical unit. A multi-channel
// relay backs several of these, all sharing MainID.
type LogicalDevice struct {
	// ID is the stable logical identifier: the vendor device id, suffixed
	// "-channel-N" for channels above zero.
	ID      string
	MainID  string
	Channel int
	Mode    CommMode
	Model   Model
	Address string

	Username string
	Password string

	mu     sync.RWMutex
	values map[string]any
}

func NewLogicalDevice(profile DeviceProfile, channel int, mode CommMode, model Model) *LogicalDevice {
	id := profile.ID
	if channel > 0 {
		id = fmt.Sprintf("%s-channel-%d", profile.ID, channel)
	}
	return &LogicalDevice{
		ID:       id,
		MainID:   profile.ID,
		Channel:  channel,
		Mode:     mode,
		Model:    model,
		Address:  profile.Address,
		Username: profile.Username,
		Password: profile.Password,
		values:   make(map[string]any),
	}
}

// AdoptCache takes over the value cache of a previous incarnation of the same
// logical device, keeping commits idempotent across registry rebuilds.
func (d *LogicalDevice) AdoptCache(old *LogicalDevice) {
	old.mu.RLock()
	values := old.values
	old.mu.RUnlock()
	d.mu.Lock()
	d.values = values
	d.mu.Unlock()
}

// CachedValue returns the last committed value for a capability.
func (d *LogicalDevice) CachedValue(capability string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[capability]
	return v, ok
}

// CommitValue stores a capability value and reports whether it differed from
// the cached one. Unchanged values are not re-stored, which is what keeps
// redundant transport reports from producing host writes.
func (d *LogicalDevice) CommitValue(capability string, value any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	old, ok := d.values[capability]
	if ok && valueEqual(old, value) {
		return false
	}
	d.values[capability] = value
	return true
}

// Capabilities lists capabilities seen so far, for discovery publishing.
func (d *LogicalDevice) Capabilities() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	caps := make([]string, 0, len(d.values))
	for c := range d.values {
		caps = append(caps, c)
	}
	return caps
}

func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}
