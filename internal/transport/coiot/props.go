package coiot

// Standardized status property ids. The hundreds digit encodes the channel
// (1101 is output on channel 0, 1201 the same on channel 1), so ids are
// reduced to their channel-0 base before the lookup.
var baseProps = map[int]string{
	1101: "output",
	1102: "roller",
	1103: "rollerPos",
	2101: "input",
	2102: "inputEvent",
	2103: "inputEventCnt",
	3101: "temperature",
	3103: "humidity",
	3104: "deviceTemp",
	3106: "luminosity",
	3108: "dwIsOpened",
	3109: "tilt",
	3111: "battery",
	4101: "power",
	4103: "energy",
	5101: "brightness",
	5102: "gain",
	5103: "colorTemperature",
	5105: "red",
	5106: "green",
	5107: "blue",
	5108: "white",
	6106: "flood",
	6107: "motion",
	6110: "vibration",
}

// decodeProp resolves a raw property id to its field name and channel.
func decodeProp(id int) (field string, channel int, ok bool) {
	if id < 1000 || id > 9999 {
		return "", 0, false
	}
	channel = (id/100)%10 - 1
	if channel < 0 {
		return "", 0, false
	}
	field, ok = baseProps[id-channel*100]
	return field, channel, ok
}
