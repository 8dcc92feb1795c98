package stomp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeartBeat holds the two halves of a heart-beat header: the smallest
// interval the sender can emit at, and the desired interval for receiving.
// Zero disables the corresponding direction.
type HeartBeat struct {
	SendInterval time.Duration
	RecvInterval time.Duration
}

// String renders the header value in milliseconds, e.g. "4000,4000".
func (hb HeartBeat) String() string {
	return fmt.Sprintf("%d,%d", hb.SendInterval.Milliseconds(), hb.RecvInterval.Milliseconds())
}

// ParseHeartBeat parses a "cx,cy" heart-beat header value.
func ParseHeartBeat(value string) (HeartBeat, error) {
	sx, sy, ok := strings.Cut(strings.TrimSpace(value), ",")
	if !ok {
		return HeartBeat{}, fmt.Errorf("stomp: malformed heart-beat header %q", value)
	}
	send, err := strconv.ParseInt(strings.TrimSpace(sx), 10, 64)
	if err != nil || send < 0 {
		return HeartBeat{}, fmt.Errorf("stomp: malformed heart-beat header %q", value)
	}
	recv, err := strconv.ParseInt(strings.TrimSpace(sy), 10, 64)
	if err != nil || recv < 0 {
		return HeartBeat{}, fmt.Errorf("stomp: malformed heart-beat header %q", value)
	}
	return HeartBeat{
		SendInterval: time.Duration(send) * time.Millisecond,
		RecvInterval: time.Duration(recv) * time.Millisecond,
	}, nil
}

// Negotiate combines the client's offer with the server's CONNECTED reply
// per the STOMP 1.2 rules: each direction runs at the larger of the two
// sides' intervals, and is disabled when either side advertises zero.
func Negotiate(client, server HeartBeat) HeartBeat {
	var out HeartBeat
	if client.SendInterval > 0 && server.RecvInterval > 0 {
		out.SendInterval = maxDuration(client.SendInterval, server.RecvInterval)
	}
	if client.RecvInterval > 0 && server.SendInterval > 0 {
		out.RecvInterval = maxDuration(client.RecvInterval, server.SendInterval)
	}
	return out
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
