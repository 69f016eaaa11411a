// Package notifier delivers watcher notifications to an operator.
//
// A notification is one line of text: the coalesced event labels, the startup
// message or a heartbeat. Each driver performs a single delivery attempt per
// call, bounded by the configured timeout; there is no retry layer.
//
// # Drivers
//
//   - command: runs an external program with the text as its last argument.
//   - telegram: sends the text to a chat (optionally a forum thread) through
//     the Bot API, throttled by a token bucket.
//   - log: writes the text to the process log only.
package notifier
