package normalize

import (
	"strconv"
	"strings"
)

// ComponentStatus is one channel-scoped slice of a status payload, ready for
// Ingest after routing picks the logical device that owns the channel.
type ComponentStatus struct {
	Component string
	Channel   int
	Fields    map[string]any
}

// gen2 component types that carry capability data. Everything else in a
// status blob (sys, wifi, ble, cloud, mqtt, ws, eth) is connectivity plumbing.
var rpcComponents = map[string]bool{
	"switch":      true,
	"cover":       true,
	"light":       true,
	"rgb":         true,
	"rgbw":        true,
	"input":       true,
	"temperature": true,
	"humidity":    true,
	"devicepower": true,
	"em":          true,
	"em1":         true,
	"emdata":      true,
	"em1data":     true,
	"pm1":         true,
}

// SplitRPCStatus breaks a gen2 status object (NotifyStatus params or a
// Shelly.GetStatus result) into per-channel component maps. Keys look like
// "switch:0"; a missing channel suffix means channel 0.
func SplitRPCStatus(status map[string]any) []ComponentStatus {
	var out []ComponentStatus
	for key, raw := range status {
		fields, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		component, channel := SplitComponentKey(key)
		if !rpcComponents[component] {
			continue
		}
		out = append(out, ComponentStatus{
			Component: component,
			Channel:   channel,
			Fields:    fields,
		})
	}
	return out
}

// SplitComponentKey parses a "type:N" component key. The trailing digit is
// the channel; absence of one means channel 0.
func SplitComponentKey(key string) (component string, channel int) {
	component = key
	if i := strings.IndexByte(key, ':'); i >= 0 {
		component = key[:i]
		if n, err := strconv.Atoi(key[i+1:]); err == nil {
			channel = n
		}
	}
	return component, channel
}

// gen1 status arrays indexed by channel
var gen1ChannelArrays = []string{"relays", "meters", "emeters", "lights", "rollers"}

// gen1 sensor blobs, always channel 0, flattened with a prefix so table keys
// stay unambiguous ("tmp.tC" vs a light's "temp").
var gen1SensorBlobs = []string{"tmp", "hum", "bat", "lux", "accel", "sensor"}

// gen1 scalar sensor fields at the top level of /status
var gen1ScalarFields = []string{"flood", "temperature"}

// SplitGen1Status breaks a gen1 /status JSON object into per-channel field
// maps. Array entries (relays, meters, lights...) land on their index;
// sensor blobs always belong to channel 0.
func SplitGen1Status(status map[string]any) map[int]map[string]any {
	out := make(map[int]map[string]any)
	field := func(ch int, name string, value any) {
		if out[ch] == nil {
			out[ch] = make(map[string]any)
		}
		out[ch][name] = value
	}

	for _, name := range gen1ChannelArrays {
		arr, ok := status[name].([]any)
		if !ok {
			continue
		}
		for ch, raw := range arr {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			for k, v := range entry {
				field(ch, k, v)
			}
		}
	}

	for _, name := range gen1SensorBlobs {
		blob, ok := status[name].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range blob {
			field(0, name+"."+k, v)
		}
	}

	for _, name := range gen1ScalarFields {
		if v, ok := status[name]; ok {
			field(0, name, v)
		}
	}

	return out
}
