package protocol

// HandshakeRequest is the first frame a client sends after connecting.
type HandshakeRequest struct {
	Version string `json:"version"`
	Token   string `json:"token"`
}

// HandshakeCode is the outcome of the handshake, sent back as the first
// server frame.
type HandshakeCode int

const (
	HandshakeOk                  HandshakeCode = 0
	HandshakeParseError          HandshakeCode = 1
	HandshakeIncompatibleVersion HandshakeCode = 2
	HandshakeAuthFailure         HandshakeCode = 3
	HandshakeAuthRefused         HandshakeCode = 4
	HandshakeCanReconnect        HandshakeCode = 5
)

func (c HandshakeCode) String() string {
	switch c {
	case HandshakeOk:
		return "Ok"
	case HandshakeParseError:
		return "ParseError"
	case HandshakeIncompatibleVersion:
		return "IncompatibleVersion"
	case HandshakeAuthFailure:
		return "AuthFailure"
	case HandshakeAuthRefused:
		return "AuthRefused"
	case HandshakeCanReconnect:
		return "CanReconnect"
	}
	return "Unknown"
}

// HandshakeResponse acknowledges the handshake. Username is present only
// on success codes (Ok, CanReconnect).
type HandshakeResponse struct {
	Code     HandshakeCode `json:"code"`
	Username string        `json:"username,omitempty"`
}
