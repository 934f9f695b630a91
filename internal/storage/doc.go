// Package storage persists restorebot state: daily usage counters,
// privileged users, credentials, runtime config flags, request outcomes
// and the set of users seen by the bot.
//
// Two backends implement Store:
//   - "sqlite": modernc.org/sqlite database file (default)
//   - "file": in-memory maps with an atomically rewritten JSON snapshot;
//     an empty path keeps everything in memory (tests, dry runs)
package storage
