package core

// ServiceID identifies a registered Service. Ids are 1-based; 0 means
// "no service" and is used as the source of messages that originate
// outside any actor.
type ServiceID uint32

// MessageType is the tag carried by every message. One tag may carry
// several payload shapes.
type MessageType uint8

const (
	MessageNone MessageType = iota
	MessageTimer
	MessageLogger
	MessageTCPServerAccept
	MessageTCPServerRead
	MessageTCPServerClosed
	MessageUDPServerRead
	MessageChannelConnected
	MessageChannelRead
	MessageChannelClosed
	MessageUDPChannelRead
	MessageUDPSenderRead
	MessageServiceRequest
	MessageServiceResponse
)

// String returns the string representation of MessageType.
func (t MessageType) String() string {
	switch t {
	case MessageNone:
		return "none"
	case MessageTimer:
		return "timer"
	case MessageLogger:
		return "logger"
	case MessageTCPServerAccept:
		return "tcp_server_accept"
	case MessageTCPServerRead:
		return "tcp_server_read"
	case MessageTCPServerClosed:
		return "tcp_server_closed"
	case MessageUDPServerRead:
		return "udp_server_read"
	case MessageChannelConnected:
		return "channel_connected"
	case MessageChannelRead:
		return "channel_read"
	case MessageChannelClosed:
		return "channel_closed"
	case MessageUDPChannelRead:
		return "udp_channel_read"
	case MessageUDPSenderRead:
		return "udp_sender_read"
	case MessageServiceRequest:
		return "service_request"
	case MessageServiceResponse:
		return "service_response"
	default:
		return "unknown"
	}
}

// NameStatus is the outcome of binding a name to a service.
type NameStatus uint8

const (
	// NameOK means the name now resolves to the service
	NameOK NameStatus = iota

	// NameConflict means the name was already bound
	NameConflict

	// NameNoID means the service has not been registered yet
	NameNoID
)

// String returns the string representation of NameStatus.
func (s NameStatus) String() string {
	switch s {
	case NameOK:
		return "ok"
	case NameConflict:
		return "name_conflict"
	case NameNoID:
		return "no_id"
	default:
		return "unknown"
	}
}
