package domain

import "strings"

// EnergyScale is the unit a model reports cumulative energy counters in. The
// normalizer picks the conversion factor to kWh from the model, never from the
// transport the reading arrived over.
type EnergyScale int

const (
	// EnergyWattMinute is the gen1 relay counter unit.
	EnergyWattMinute EnergyScale = iota
	// EnergyWattHour is used by energy meters and gen2 components.
	EnergyWattHour
	// EnergyMilliwattHour shows up on a few metering plugs.
	EnergyMilliwattHour
)

// Factor converts a raw counter value to kWh.
func (s EnergyScale) Factor() float64 {
	switch s {
	case EnergyWattMinute:
		return 0.000017
	case EnergyMilliwattHour:
		return 0.000001
	default:
		return 0.001
	}
}

// Model captures the per-model metadata the core needs: channel fan-out,
// battery scheduling, energy counter unit and color temperature bounds.
type Model struct {
	ID            string
	Name          string
	Gen           int
	Channels      int
	Battery       bool
	EnergyScale   EnergyScale
	ColorTempMinK int
	ColorTempMaxK int
}

var models = map[string]Model{
	"SHSW-1":       {ID: "SHSW-1", Name: "Shelly 1", Gen: 1, Channels: 1},
	"SHSW-PM":      {ID: "SHSW-PM", Name: "Shelly 1PM", Gen: 1, Channels: 1},
	"SHSW-25":      {ID: "SHSW-25", Name: "Shelly 2.5", Gen: 1, Channels: 2},
	"SHSW-44":      {ID: "SHSW-44", Name: "Shelly 4Pro", Gen: 1, Channels: 4},
	"SHPLG-S":      {ID: "SHPLG-S", Name: "Shelly Plug S", Gen: 1, Channels: 1},
	"SHEM":         {ID: "SHEM", Name: "Shelly EM", Gen: 1, Channels: 2, EnergyScale: EnergyWattHour},
	"SHEM-3":       {ID: "SHEM-3", Name: "Shelly 3EM", Gen: 1, Channels: 3, EnergyScale: EnergyWattHour},
	"SHDM-2":       {ID: "SHDM-2", Name: "Shelly Dimmer 2", Gen: 1, Channels: 1},
	"SHBLB-1":      {ID: "SHBLB-1", Name: "Shelly Bulb", Gen: 1, Channels: 1, ColorTempMinK: 3000, ColorTempMaxK: 6500},
	"SHBDUO-1":     {ID: "SHBDUO-1", Name: "Shelly Duo", Gen: 1, Channels: 1, ColorTempMinK: 2700, ColorTempMaxK: 6500},
	"SHRGBW2":      {ID: "SHRGBW2", Name: "Shelly RGBW2", Gen: 1, Channels: 4},
	"SHHT-1":       {ID: "SHHT-1", Name: "Shelly H&T", Gen: 1, Channels: 1, Battery: true},
	"SHWT-1":       {ID: "SHWT-1", Name: "Shelly Flood", Gen: 1, Channels: 1, Battery: true},
	"SHDW-2":       {ID: "SHDW-2", Name: "Shelly Door/Window 2", Gen: 1, Channels: 1, Battery: true},
	"SHMOS-01":     {ID: "SHMOS-01", Name: "Shelly Motion", Gen: 1, Channels: 1, Battery: true},
	"SHTRV-01":     {ID: "SHTRV-01", Name: "Shelly TRV", Gen: 1, Channels: 1, Battery: true},
	"shelly1":      {ID: "shelly1", Name: "Shelly 1", Gen: 1, Channels: 1},
	"shellyplus1":  {ID: "shellyplus1", Name: "Shelly Plus 1", Gen: 2, Channels: 1, EnergyScale: EnergyWattHour},
	"shellyplus1pm": {
		ID: "shellyplus1pm", Name: "Shelly Plus 1PM", Gen: 2, Channels: 1, EnergyScale: EnergyWattHour,
	},
	"shellyplus2pm": {
		ID: "shellyplus2pm", Name: "Shelly Plus 2PM", Gen: 2, Channels: 2, EnergyScale: EnergyWattHour,
	},
	"shellyplusht": {
		ID: "shellyplusht", Name: "Shelly Plus H&T", Gen: 2, Channels: 1, Battery: true, EnergyScale: EnergyWattHour,
	},
	"shellyplusi4": {ID: "shellyplusi4", Name: "Shelly Plus i4", Gen: 2, Channels: 4, EnergyScale: EnergyWattHour},
	"shellypro1pm": {
		ID: "shellypro1pm", Name: "Shelly Pro 1PM", Gen: 2, Channels: 1, EnergyScale: EnergyWattHour,
	},
	"shellypro4pm": {
		ID: "shellypro4pm", Name: "Shelly Pro 4PM", Gen: 2, Channels: 4, EnergyScale: EnergyWattHour,
	},
}

// ModelByID resolves model metadata. Unknown models fall back to a single
// channel gen2 profile so unpaired-but-reporting devices still normalize.
func ModelByID(id string) Model {
	if m, ok := models[id]; ok {
		return m
	}
	// gen1 model ids are upper case type codes, gen2 ids are app names
	gen := 2
	if strings.ToUpper(id) == id {
		gen = 1
	}
	return Model{ID: id, Name: id, Gen: gen, Channels: 1, EnergyScale: EnergyWattHour}
}
