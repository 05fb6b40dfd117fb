package ws

// ClientState is where a connection sits in its lifecycle. It only moves
// forward: connected, then optionally identified, then closing and closed.
type ClientState int32

const (
	ClientStateConnected ClientState = iota
	ClientStateIdentified
	ClientStateClosing
	ClientStateClosed
)

var clientTransitions = map[ClientState][]ClientState{
	ClientStateConnected:  {ClientStateIdentified, ClientStateClosing},
	ClientStateIdentified: {ClientStateClosing},
	ClientStateClosing:    {ClientStateClosed},
}

func (s ClientState) String() string {
	switch s {
	case ClientStateConnected:
		return "connected"
	case ClientStateIdentified:
		return "identified"
	case ClientStateClosing:
		return "closing"
	case ClientStateClosed:
		return "closed"
	}
	return "unknown"
}

func (s ClientState) canMoveTo(next ClientState) bool {
	for _, allowed := range clientTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) IsIdentified() bool {
	return c.State() == ClientStateIdentified
}

// IsClosed is true from the moment shutdown starts.
func (c *Client) IsClosed() bool {
	return c.State() >= ClientStateClosing
}

// transitionTo reports whether the client moved to next. Losing a CAS race
// re-checks against the state that won.
func (c *Client) transitionTo(next ClientState) bool {
	for {
		cur := c.State()
		if !cur.canMoveTo(next) {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}
