// Package session defines per-session state: the long-lived TCP
// connection, its timerfd, local variable store and main-flow cursor.
package session

import "github.com/gsauthof/tcploadgen/internal/template"

// Session is one long-lived TCP connection driven by a Sender. Created
// at configuration parse time; ConnFD and TimerFD are populated during
// sender startup. ConnFD is closed by the Receiver once handed off;
// TimerFD belongs to the Sender, which does not close it.
type Session struct {
	StartOffNS uint64
	IntervalNS uint64

	Vars template.Store

	ConnFD  int
	TimerFD int

	FlowPos uint32
}
