package wire

import (
	"encoding/json"
	"fmt"
)

// Operation codes mirror the HTTP method numbering used by the control server.
const (
	OpGet  uint16 = 1
	OpPost uint16 = 3
)

// StatusOK is the only status a reply may carry to count as success.
const StatusOK uint16 = 200

// AuthorizationHeader names the header entry carrying the agent token.
const AuthorizationHeader = "Authorization"

// Message is the logical content of one datagram.
type Message struct {
	Op     uint16
	Path   string
	Header string
	Body   string
}

// OK reports whether a reply message signals success.
func (m Message) OK() bool { return m.Op == StatusOK }

// AuthHeader renders the header text for a token. An empty token yields an
// empty header, which is what registration sends.
func AuthHeader(token string) string {
	if token == "" {
		return ""
	}
	v, _ := json.Marshal(token)
	return fmt.Sprintf("%q: %s", AuthorizationHeader, v)
}

// HeaderValue looks up name in header text of the form `"k": "v", ...`.
func HeaderValue(header, name string) (string, bool) {
	if header == "" {
		return "", false
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte("{"+header+"}"), &fields); err != nil {
		return "", false
	}
	v, ok := fields[name]
	return v, ok
}
