package turn

import "errors"

// ErrSessionBusy is returned by RunTurn when the session's turn mutex is
// already held by another in-flight turn (spec.md §7's SessionBusy kind).
var ErrSessionBusy = errors.New("turn: session is busy")
