package core

import "log/slog"

// shapeID distinguishes payload variants that share a MessageType.
type shapeID uint8

const (
	shapeTimerFired shapeID = iota + 1
	shapeLogText
	shapeLogRecord
	shapeAccept
	shapeRead
	shapeClosed
	shapeUDPServerRead
	shapeChannelConnected
	shapeChannelRead
	shapeChannelClosed
	shapeUDPChannelRead
	shapeUDPSenderRead
	shapeRequest
	shapeResponse
)

// Message is the closed set of payloads that can be dispatched between
// services. Only the variants declared in this file implement it.
type Message interface {
	MessageType() MessageType
	shape() shapeID
}

// handlerKey indexes the handler table.
type handlerKey struct {
	typ   MessageType
	shape shapeID
}

func keyOf(m Message) handlerKey {
	return handlerKey{typ: m.MessageType(), shape: m.shape()}
}

// TimerID is the opaque handle of a timer event.
type TimerID uint32

// TimerFired is delivered to a timer's owner on every expiry.
type TimerFired struct {
	Event TimerID
	Token int
}

func (TimerFired) MessageType() MessageType { return MessageTimer }
func (TimerFired) shape() shapeID           { return shapeTimerFired }

// LogText asks the logger service to record plain text at info level.
type LogText struct {
	Text string
}

func (LogText) MessageType() MessageType { return MessageLogger }
func (LogText) shape() shapeID           { return shapeLogText }

// LogRecord asks the logger service to record text at a given level.
type LogRecord struct {
	Level slog.Level
	Text  string
}

func (LogRecord) MessageType() MessageType { return MessageLogger }
func (LogRecord) shape() shapeID           { return shapeLogRecord }

// Accept reports a new server session.
type Accept struct {
	Server  any
	Session uint32
}

func (Accept) MessageType() MessageType { return MessageTCPServerAccept }
func (Accept) shape() shapeID           { return shapeAccept }

// Read carries one frame body received on a server session.
type Read struct {
	Server  any
	Session uint32
	Data    *Buffer
}

func (Read) MessageType() MessageType { return MessageTCPServerRead }
func (Read) shape() shapeID           { return shapeRead }

// Closed reports a server session that failed. Err describes the cause.
type Closed struct {
	Server  any
	Session uint32
	Err     string
}

func (Closed) MessageType() MessageType { return MessageTCPServerClosed }
func (Closed) shape() shapeID           { return shapeClosed }

// UDPPacket is one datagram and the address it came from.
type UDPPacket struct {
	Addr string
	Port uint16
	Data *Buffer
}

// UDPServerRead carries a datagram received by a UDP server.
type UDPServerRead struct {
	Server any
	UDPPacket
}

func (UDPServerRead) MessageType() MessageType { return MessageUDPServerRead }
func (UDPServerRead) shape() shapeID           { return shapeUDPServerRead }

// ChannelConnected reports an established outbound connection.
type ChannelConnected struct {
	Channel any
}

func (ChannelConnected) MessageType() MessageType { return MessageChannelConnected }
func (ChannelConnected) shape() shapeID           { return shapeChannelConnected }

// ChannelRead carries one frame body received on an outbound connection.
type ChannelRead struct {
	Channel any
	Data    *Buffer
}

func (ChannelRead) MessageType() MessageType { return MessageChannelRead }
func (ChannelRead) shape() shapeID           { return shapeChannelRead }

// ChannelClosed reports a failed outbound connection.
type ChannelClosed struct {
	Channel any
	Err     string
}

func (ChannelClosed) MessageType() MessageType { return MessageChannelClosed }
func (ChannelClosed) shape() shapeID           { return shapeChannelClosed }

// UDPChannelRead carries a reply received by a connected UDP channel.
type UDPChannelRead struct {
	Channel any
	UDPPacket
}

func (UDPChannelRead) MessageType() MessageType { return MessageUDPChannelRead }
func (UDPChannelRead) shape() shapeID           { return shapeUDPChannelRead }

// UDPSenderRead carries a reply received by an unbound UDP sender.
type UDPSenderRead struct {
	Sender any
	UDPPacket
}

func (UDPSenderRead) MessageType() MessageType { return MessageUDPSenderRead }
func (UDPSenderRead) shape() shapeID           { return shapeUDPSenderRead }

// Request is a service-to-service call. Session correlates the Response.
type Request struct {
	Session uint32
	Data    *Buffer
}

func (Request) MessageType() MessageType { return MessageServiceRequest }
func (Request) shape() shapeID           { return shapeRequest }

// Response answers a Request carrying the same Session.
type Response struct {
	Session uint32
	Data    *Buffer
}

func (Response) MessageType() MessageType { return MessageServiceResponse }
func (Response) shape() shapeID           { return shapeResponse }
