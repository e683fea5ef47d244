// Package envelope defines the fixed-size frame that carries one timestamped
// output line from a tap worker to the merge engine.
//
// # Overview
//
// Goals:
//
//  1. Every frame has the same size, so a reader never has to search for a delimiter
//  2. Nanosecond timestamps survive the trip unchanged
//  3. A worker can announce itself with a readiness sentinel before any output
//  4. Short writes and full pipes never corrupt the stream
//
// # Frame Layout
//
// Each frame is exactly Size bytes:
//
//	offset  size  field
//	0       8     seconds since the Unix epoch, big-endian int64
//	8       8     nanoseconds within the second, big-endian int64
//	16      4096  text, NUL padded
//
// The last text byte is reserved and always NUL, so the text of a frame is at
// most MaxText bytes. The text never contains a newline: the newline that
// terminated the line is not transmitted.
//
// NUL padding means a NUL byte ends the text. Output after a NUL inside a
// line is dropped; ChanSender applies the same cut so both tap modes deliver
// the same text.
//
// # Readiness Sentinel
//
// A frame with timestamp (0, 0) and the text "stdout started" or
// "stderr started" is sent once by each worker before it relays any output.
// The sentinel is a handshake only and is never rendered.
//
// # Examples
//
// The line "hello\n" captured at 2025-01-07T12:34:56.789Z becomes:
//
//	00 00 00 00 67 7d 1f 70   seconds 1736253296
//	00 00 00 00 2f 07 2f 40   nanoseconds 789000000
//	68 65 6c 6c 6f 00 ...     "hello" then NUL padding
package envelope
