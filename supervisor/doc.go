// Package supervisor tracks a remote install-service command from
// submission to a terminal state.
//
// A Command correlates three independent event sources with a
// cooperative polling loop:
//
//   - status events from the installation service (progress, the
//     terminal "Complete" status, or an error record),
//   - an optional side-channel notification confirming the operation,
//   - device-presence events, whose removal signal cancels the wait.
//
// # State Machine
//
// Idle → Waiting → {Completed, Failed, Cancelled}
//
// Waiting holds while no error has been recorded, the device is still
// present, and completion has not been observed. An error record wins
// over every other condition; presence loss yields Cancelled;
// completion moves on to the secondary notification wait when one is
// expected for the operation kind. There is deliberately no timeout
// distinct from presence loss: a command that never completes on a
// device that never disconnects waits until the caller's context ends.
//
// # Concurrency
//
// The event handlers (HandleStatus, HandleNotification,
// HandlePresence) may be invoked from the transport's I/O goroutines
// and may race the poll loop; all shared state lives behind one mutex.
// Wait disables presence delivery before returning, so late events
// cannot mutate state after the caller has moved on.
package supervisor
