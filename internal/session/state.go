package session

// State is the session lifecycle position.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateSubscribed
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}
