package domain

import (
	"fmt"
	"strings"
)

// Action is the closed set of outbound operations the dispatcher understands.
type Action int

const (
	ActionTurnOn Action = iota
	ActionTurnOff
	ActionToggle
	ActionSetBrightness
	ActionSetColor
	ActionSetColorTemp
	ActionSetPosition
	ActionReboot
	ActionUpdateFirmware
)

func (a Action) String() string {
	switch a {
	case ActionTurnOn:
		return "turn_on"
	case ActionTurnOff:
		return "turn_off"
	case ActionToggle:
		return "toggle"
	case ActionSetBrightness:
		return "set_brightness"
	case ActionSetColor:
		return "set_color"
	case ActionSetColorTemp:
		return "set_color_temp"
	case ActionSetPosition:
		return "set_position"
	case ActionReboot:
		return "reboot"
	case ActionUpdateFirmware:
		return "update_firmware"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "turn_on", "on":
		return ActionTurnOn, nil
	case "turn_off", "off":
		return ActionTurnOff, nil
	case "toggle":
		return ActionToggle, nil
	case "set_brightness", "brightness", "dim":
		return ActionSetBrightness, nil
	case "set_color", "color":
		return ActionSetColor, nil
	case "set_color_temp", "color_temp":
		return ActionSetColorTemp, nil
	case "set_position", "position":
		return ActionSetPosition, nil
	case "reboot":
		return ActionReboot, nil
	case "update_firmware", "ota":
		return ActionUpdateFirmware, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}
