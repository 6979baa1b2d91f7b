package normalize

import (
	"fmt"
	"strings"

	"shelly2mqtt/internal/core/domain"
)

// Transport identifies the ingestion path a raw reading arrived over. Field
// vocabularies differ per transport, so each one carries its own table.
type Transport int

const (
	TransportCoIoT Transport = iota
	TransportRPC
	TransportHTTP
	TransportCloud
)

func (t Transport) String() string {
	switch t {
	case TransportCoIoT:
		return "coiot"
	case TransportRPC:
		return "rpc"
	case TransportHTTP:
		return "http"
	case TransportCloud:
		return "cloud"
	}
	return fmt.Sprintf("transport(%d)", int(t))
}

// Update is one canonical capability reading. Value nil means the device had
// no valid reading (sentinel mapped to unknown).
type Update struct {
	Capability string
	Value      any
	Decimals   uint
}

type convertFn func(raw any, model domain.Model) (any, bool)

type mapper struct {
	capability string
	decimals   uint
	convert    convertFn
}

// fieldTable maps raw vendor field names to canonical capabilities. The RPC
// and cloud tables share the gen2 component vocabulary, the HTTP and CoIoT
// tables the gen1 one; they are kept separate because the same word can mean
// different things per transport.
var tables = map[Transport]map[string]mapper{
	TransportRPC:   rpcTable,
	TransportCloud: cloudTable,
	TransportHTTP:  gen1Table,
	TransportCoIoT: coiotTable,
}

var rpcTable = map[string]mapper{
	"output":          {capability: "onoff", convert: asBool},
	"apower":          {capability: "measure_power", decimals: 1, convert: asFloat},
	"voltage":         {capability: "measure_voltage", decimals: 1, convert: asFloat},
	"current":         {capability: "measure_current", decimals: 2, convert: asFloat},
	"aenergy.total":   {capability: "meter_power", decimals: 3, convert: asEnergy},
	"ret_aenergy.total": {
		capability: "meter_power_returned", decimals: 3, convert: asEnergy,
	},
	"temperature.tC":  {capability: "measure_temperature", decimals: 1, convert: asTemperature},
	"tC":              {capability: "measure_temperature", decimals: 1, convert: asTemperature},
	"rh":              {capability: "measure_humidity", decimals: 0, convert: asFloat},
	"battery.percent": {capability: "measure_battery", decimals: 0, convert: asSensorReading},
	"lux":             {capability: "measure_luminance", decimals: 0, convert: asFloat},
	"brightness":      {capability: "dim", decimals: 2, convert: asPercentage},
	"ct":              {capability: "light_temperature", decimals: 2, convert: asColorTemp},
	"current_pos":     {capability: "windowcoverings_set", decimals: 2, convert: asPercentage},
	"flood":           {capability: "alarm_water", convert: asSensorBool},
	"motion":          {capability: "alarm_motion", convert: asSensorBool},
	"vibration":       {capability: "alarm_tamper", convert: asSensorBool},
	"tilt":            {capability: "tilt", decimals: 0, convert: asSensorReading},
}

// the cloud relay forwards gen2 status blobs unmodified
var cloudTable = rpcTable

var gen1Table = map[string]mapper{
	"ison":             {capability: "onoff", convert: asBool},
	"power":            {capability: "measure_power", decimals: 1, convert: asFloat},
	"voltage":          {capability: "measure_voltage", decimals: 1, convert: asFloat},
	"total":            {capability: "meter_power", decimals: 3, convert: asEnergy},
	"total_returned":   {capability: "meter_power_returned", decimals: 3, convert: asEnergy},
	"tmp.tC":           {capability: "measure_temperature", decimals: 1, convert: asTemperature},
	"temperature":      {capability: "measure_temperature", decimals: 1, convert: asTemperature},
	"hum.value":        {capability: "measure_humidity", decimals: 0, convert: asFloat},
	"bat.value":        {capability: "measure_battery", decimals: 0, convert: asSensorReading},
	"lux.value":        {capability: "measure_luminance", decimals: 0, convert: asFloat},
	"brightness":       {capability: "dim", decimals: 2, convert: asPercentage},
	"gain":             {capability: "dim", decimals: 2, convert: asPercentage},
	"temp":             {capability: "light_temperature", decimals: 2, convert: asColorTemp},
	"current_pos":      {capability: "windowcoverings_set", decimals: 2, convert: asPercentage},
	"flood":            {capability: "alarm_water", convert: asSensorBool},
	"sensor.motion":    {capability: "alarm_motion", convert: asSensorBool},
	"sensor.vibration": {capability: "alarm_tamper", convert: asSensorBool},
	"sensor.state":     {capability: "alarm_contact", convert: asContact},
	"accel.tilt":       {capability: "tilt", decimals: 0, convert: asSensorReading},
	"accel.vibration":  {capability: "alarm_tamper", convert: asSensorBool},
}

var coiotTable = map[string]mapper{
	"output":      {capability: "onoff", convert: asBool},
	"power":       {capability: "measure_power", decimals: 1, convert: asFloat},
	"voltage":     {capability: "measure_voltage", decimals: 1, convert: asFloat},
	"energy":      {capability: "meter_power", decimals: 3, convert: asEnergy},
	"energyReturned": {
		capability: "meter_power_returned", decimals: 3, convert: asEnergy,
	},
	"temperature":     {capability: "measure_temperature", decimals: 1, convert: asTemperature},
	"deviceTemp":      {capability: "measure_temperature", decimals: 1, convert: asTemperature},
	"humidity":        {capability: "measure_humidity", decimals: 0, convert: asFloat},
	"battery":         {capability: "measure_battery", decimals: 0, convert: asSensorReading},
	"luminosity":      {capability: "measure_luminance", decimals: 0, convert: asFloat},
	"brightness":      {capability: "dim", decimals: 2, convert: asPercentage},
	"gain":            {capability: "dim", decimals: 2, convert: asPercentage},
	"colorTemperature": {
		capability: "light_temperature", decimals: 2, convert: asColorTemp,
	},
	"rollerPos": {capability: "windowcoverings_set", decimals: 2, convert: asPercentage},
	"flood":     {capability: "alarm_water", convert: asSensorBool},
	"motion":    {capability: "alarm_motion", convert: asSensorBool},
	"vibration": {capability: "alarm_tamper", convert: asSensorBool},
	"tilt":      {capability: "tilt", decimals: 0, convert: asSensorReading},
	"dwIsOpened": {capability: "alarm_contact", convert: asBool},
}

// bookkeeping keys inside nested payloads that never map to capabilities:
// rolling historical buffers, timestamps and message plumbing.
var skipFields = map[string]bool{
	"id":        true,
	"ts":        true,
	"minute_ts": true,
	"by_minute": true,
	"counters":  true,
	"timestamp": true,
	"source":    true,
	"is_valid":  true,
}

// Map translates one raw field to a capability update. The boolean reports
// whether the field is known to this transport at all; unknown fields are
// dropped by callers at debug level.
func Map(t Transport, model domain.Model, field string, raw any) (Update, bool) {
	m, ok := tables[t][field]
	if !ok {
		return Update{}, false
	}
	value, ok := m.convert(raw, model)
	if !ok {
		return Update{}, false
	}
	return Update{Capability: m.capability, Value: value, Decimals: m.decimals}, true
}

// Flatten expands a raw field one level deep: a nested object (e.g. an
// "aenergy" blob carrying total/by_minute/minute_ts) becomes one dotted leaf
// per non-bookkeeping key. Scalars pass through unchanged.
func Flatten(field string, raw any) map[string]any {
	out := make(map[string]any)
	nested, ok := raw.(map[string]any)
	if !ok {
		if !skipFields[field] {
			out[field] = raw
		}
		return out
	}
	for k, v := range nested {
		if skipFields[k] {
			continue
		}
		if _, deeper := v.(map[string]any); deeper {
			// one level only; anything deeper is bookkeeping we don't model
			continue
		}
		out[field+"."+k] = v
	}
	return out
}

// Ingest runs the full inbound path for one logical device: flatten, map,
// derive color, and commit idempotently against the device's value cache.
// Only values that actually changed come back; an identical payload replayed
// over any transport yields an empty result and therefore zero host writes.
func Ingest(t Transport, dev *domain.LogicalDevice, fields map[string]any) []domain.CapabilityUpdateEvent {
	leaves := make(map[string]any)
	for field, raw := range fields {
		for k, v := range Flatten(field, raw) {
			leaves[k] = v
		}
	}

	updates := make([]Update, 0, len(leaves))
	for field, raw := range leaves {
		if u, ok := Map(t, dev.Model, field, raw); ok {
			updates = append(updates, u)
		}
	}
	if u, ok := deriveColor(leaves); ok {
		updates = append(updates, u...)
	}

	var changed []domain.CapabilityUpdateEvent
	for _, u := range updates {
		if dev.CommitValue(u.Capability, u.Value) {
			changed = append(changed, domain.CapabilityUpdateEvent{
				DeviceID:   dev.ID,
				Capability: u.Capability,
				Value:      u.Value,
				Decimals:   u.Decimals,
			})
		}
	}
	return changed
}

// deriveColor turns an RGB triple into hue/saturation. Lights report color as
// separate red/green/blue fields; the host model wants HSV.
func deriveColor(leaves map[string]any) ([]Update, bool) {
	r, rok := floatValue(leaves["red"])
	g, gok := floatValue(leaves["green"])
	b, bok := floatValue(leaves["blue"])
	if !rok || !gok || !bok {
		return nil, false
	}
	h, s, _ := RGBToHSV(r, g, b)
	return []Update{
		{Capability: "light_hue", Value: round2(h), Decimals: 2},
		{Capability: "light_saturation", Value: round2(s), Decimals: 2},
	}, true
}

// conversions

func asBool(raw any, _ domain.Model) (any, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case string:
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "on"), true
	}
	return nil, false
}

func asFloat(raw any, _ domain.Model) (any, bool) {
	f, ok := floatValue(raw)
	if !ok {
		return nil, false
	}
	return f, true
}

func asEnergy(raw any, model domain.Model) (any, bool) {
	f, ok := floatValue(raw)
	if !ok {
		return nil, false
	}
	return EnergyToKWh(f, model), true
}

// asSensorReading passes numeric readings through but maps the no-reading
// sentinel to unknown.
func asSensorReading(raw any, _ domain.Model) (any, bool) {
	f, ok := floatValue(raw)
	if !ok {
		return nil, false
	}
	if f == sentinelNoReading {
		return nil, true
	}
	return f, true
}

// asSensorBool handles alarm-class fields that arrive as bools or as 0/1/-1
// numerics, -1 being the no-reading sentinel.
func asSensorBool(raw any, _ domain.Model) (any, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case float64:
		if v == sentinelNoReading {
			return nil, true
		}
		return v != 0, true
	}
	return nil, false
}

func asTemperature(raw any, _ domain.Model) (any, bool) {
	f, ok := floatValue(raw)
	if !ok {
		return nil, false
	}
	if f == sentinelNoTemperature {
		return nil, true
	}
	return f, true
}

func asPercentage(raw any, _ domain.Model) (any, bool) {
	f, ok := floatValue(raw)
	if !ok {
		return nil, false
	}
	return clamp01(f / 100), true
}

func asColorTemp(raw any, model domain.Model) (any, bool) {
	f, ok := floatValue(raw)
	if !ok {
		return nil, false
	}
	return ColorTempToNorm(f, model), true
}

func asContact(raw any, _ domain.Model) (any, bool) {
	s, ok := raw.(string)
	if !ok {
		return nil, false
	}
	return strings.EqualFold(s, "open"), true
}

func floatValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
