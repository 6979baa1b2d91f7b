package domain

// Messages exchanged between actors. Requests embed ActorRequestMixIn so a
// caller outside the actor system can redirect the response, responses embed
// ActorResponseMixIn to carry failures across the boundary.

type DispatchCommandRequest struct {
	ActorRequestMixIn
	DeviceID string
	Action   Action
	Params   map[string]any
}

type DispatchCommandResponse struct {
	ActorResponseMixIn
}

type PairDeviceRequest struct {
	ActorRequestMixIn
	Profile DeviceProfile
}

type PairDeviceResponse struct {
	ActorResponseMixIn
}

type UnpairDeviceRequest struct {
	ActorRequestMixIn
	DeviceID string
}

type UnpairDeviceResponse struct {
	ActorResponseMixIn
}

type ListDevicesRequest struct {
	ActorRequestMixIn
}

type DeviceSummary struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Channel int    `json:"channel"`
	Mode    string `json:"mode"`
	Address string `json:"address,omitempty"`
}

type ListDevicesResponse struct {
	ActorResponseMixIn
	Devices []DeviceSummary
}

// RebuildRegistryRequest asks the master to refresh the registry snapshot from
// the device store. Sent on a startup delay, after pair/unpair, and by the
// periodic scheduler job.
type RebuildRegistryRequest struct {
	ActorRequestMixIn
}

type RebuildRegistryResponse struct {
	ActorResponseMixIn
	Count int
}

// CloudRefreshRequest triggers the periodic REST reconciliation on the cloud
// session actor.
type CloudRefreshRequest struct {
	ActorRequestMixIn
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Switches []GenericSwitch
	Lights   []GenericLight
	Covers   []GenericCover
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}
