package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonBackendRequest   ReasonCode = "backend_request"
	ReasonBackendStatus    ReasonCode = "backend_status"
	ReasonBackendUnhealthy ReasonCode = "backend_unhealthy"
	ReasonDispatchPanic    ReasonCode = "dispatch_panic"

	ReasonSessionNotActive ReasonCode = "session_not_active"
	ReasonMalformedFrame   ReasonCode = "malformed_frame"
	ReasonArtifactWrite    ReasonCode = "artifact_write"

	ReasonTransportUpgrade ReasonCode = "transport_upgrade"
	ReasonTransportRead    ReasonCode = "transport_read"
	ReasonConfig           ReasonCode = "config"
)
