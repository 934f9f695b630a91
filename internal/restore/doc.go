// Package restore talks to the subscription service: it resolves
// usernames to account ids, reads entitlement status, replays a captured
// purchase receipt against a target account and refreshes credentials.
//
// Client implements dispatch.Executor and dispatch.Refresher.
package restore
