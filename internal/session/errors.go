package session

import "errors"

// errSendFailed signals that a reply to the originating session itself
// could not be enqueued (the fd is not writable, e.g. a full send buffer).
// Unlike a fan-out send failure, this closes the connection that owns the
// failing codec (spec §4.D "Protocol-level send failures schedule the
// connection for close"), so it is returned up through dispatch to the
// multiplexer's on_ready contract (0/-1 closes).
var errSendFailed = errors.New("session: send failed")
