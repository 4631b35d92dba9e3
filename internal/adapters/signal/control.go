package signal

import (
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/protocol"
)

// handlePing answers the JSON keepalive; it counts as liveness like a pong.
func (ctl *SignalWSController) handlePing(sess *core.Session) {
	sess.MarkAlive()
	_ = sess.Send(protocol.Pong{})
}
