package transport

// Role distinguishes the two connections of a client. It is reported to the
// broker as the purpose client property.
type Role string

const (
	RolePublisher Role = "publisher"
	RoleConsumer  Role = "consumer"
)

// ConnectionStatus is the observable state of a Provider.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusClosed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}
