// Package notifier delivers user-visible messages through a transport
// adapter.
//
// Every call is synchronous: the caller learns the message reference (or
// the final error) before it returns. Calls share one token bucket so a
// burst of status edits from many workers stays under the platform's
// flood limits, and transient failures are retried with jittered
// exponential backoff.
//
// Errors that retrying cannot fix are returned immediately:
// transport.ErrBlocked, transport.ErrMessageNotFound and
// transport.ErrNotModified. EditStatus and Delete treat the last two as
// success.
//
// A small in-memory history of recent deliveries is kept for the ops
// endpoints.
package notifier
