// Package stomp implements the subset of STOMP 1.2 framing used by the
// Queueless broker: CONNECT/CONNECTED handshake, SUBSCRIBE/UNSUBSCRIBE,
// SEND, MESSAGE, ERROR and heart-beat frames, carried one frame per
// WebSocket message.
package stomp

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Command is a STOMP frame command.
type Command string

const (
	CmdConnect     Command = "CONNECT"
	CmdConnected   Command = "CONNECTED"
	CmdSend        Command = "SEND"
	CmdSubscribe   Command = "SUBSCRIBE"
	CmdUnsubscribe Command = "UNSUBSCRIBE"
	CmdMessage     Command = "MESSAGE"
	CmdError       Command = "ERROR"
	CmdDisconnect  Command = "DISCONNECT"
	CmdReceipt     Command = "RECEIPT"
)

// Well-known header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrVersion       = "version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrAuthorization = "Authorization"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrContentType   = "content-type"
	HdrMessage       = "message"
)

// heartbeatFrame is the body of a heart-beat: a single EOL, no command.
var heartbeatFrame = []byte("\n")

// Frame is a single STOMP frame.
type Frame struct {
	Command Command
	Headers map[string]string
	Body    []byte
}

// NewFrame builds a frame from alternating header key/value pairs.
func NewFrame(cmd Command, body []byte, headers ...string) *Frame {
	f := &Frame{Command: cmd, Headers: make(map[string]string, len(headers)/2), Body: body}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers[headers[i]] = headers[i+1]
	}
	return f
}

// Header returns the named header value, or "" when absent.
func (f *Frame) Header(name string) string {
	if f == nil || f.Headers == nil {
		return ""
	}
	return f.Headers[name]
}

// Marshal serializes the frame. Headers are written in sorted key order so
// output is deterministic.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(string(f.Command))
	buf.WriteByte('\n')

	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	escape := f.escapesHeaders()
	for _, k := range keys {
		v := f.Headers[k]
		if escape {
			k = escapeHeader(k)
			v = escapeHeader(v)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Heartbeat returns the wire form of a heart-beat frame.
func Heartbeat() []byte {
	return heartbeatFrame
}

// IsHeartbeat reports whether data is a bare heart-beat (EOL only).
func IsHeartbeat(data []byte) bool {
	trimmed := bytes.TrimRight(data, "\r\n")
	return len(trimmed) == 0 && len(data) > 0
}

// Parse decodes a single frame. Heart-beats must be filtered out with
// IsHeartbeat before calling Parse.
func Parse(data []byte) (*Frame, error) {
	// Tolerate a CR before the LF throughout.
	head, body, ok := bytes.Cut(data, []byte("\n\n"))
	if !ok {
		head, body, ok = bytes.Cut(data, []byte("\r\n\r\n"))
		if !ok {
			return nil, fmt.Errorf("stomp: malformed frame: missing header terminator")
		}
	}

	lines := strings.Split(strings.TrimRight(string(head), "\r"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("stomp: malformed frame: empty command")
	}

	f := &Frame{
		Command: Command(strings.TrimRight(lines[0], "\r")),
		Headers: make(map[string]string, len(lines)-1),
	}
	if !f.validCommand() {
		return nil, fmt.Errorf("stomp: unknown command %q", f.Command)
	}

	escape := f.escapesHeaders()
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("stomp: malformed header line %q", line)
		}
		if escape {
			var err error
			if k, err = unescapeHeader(k); err != nil {
				return nil, err
			}
			if v, err = unescapeHeader(v); err != nil {
				return nil, err
			}
		}
		// First occurrence wins, per the STOMP spec.
		if _, exists := f.Headers[k]; !exists {
			f.Headers[k] = v
		}
	}

	f.Body = bytes.TrimSuffix(body, []byte{0})
	return f, nil
}

func (f *Frame) validCommand() bool {
	switch f.Command {
	case CmdConnect, CmdConnected, CmdSend, CmdSubscribe, CmdUnsubscribe,
		CmdMessage, CmdError, CmdDisconnect, CmdReceipt:
		return true
	}
	return false
}

// escapesHeaders reports whether header octet escaping applies to this
// frame. STOMP 1.2 exempts CONNECT and CONNECTED for 1.0 compatibility.
func (f *Frame) escapesHeaders() bool {
	return f.Command != CmdConnect && f.Command != CmdConnected
}

var headerEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r", `\r`,
	"\n", `\n`,
	":", `\c`,
)

func escapeHeader(s string) string {
	return headerEscaper.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("stomp: dangling escape in header %q", s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("stomp: invalid escape sequence \\%c", s[i])
		}
	}
	return b.String(), nil
}
