// Package vestibule buffers messages whose cryptographic prerequisites are
// not yet available and replays them when the blocking entity becomes ready.
//
// Each buffered message waits on exactly one identifier, derived in priority
// order: an explicit waiting marker on the message (stripped before
// buffering), the user id attached by a failed decrypt, the group id, and
// finally the counterpart in the envelope. Readiness events on the bus (meta
// saved, document updated, members updated) trigger at most one replay
// attempt per buffered message; replay failures are logged and never
// re-buffer the message.
package vestibule
