// Package credential owns user accounts: identity fields, password hash,
// role, and the two-factor state machine with its recovery codes.
//
// [TwoFactor] values are immutable snapshots. Transitions return a new value
// with a bumped Revision, and [Store.SwapTwoFactor] persists it only if the
// stored (State, Revision) still matches the snapshot the transition started
// from. Recovery codes are stored as hashes, in issue order, and consumed
// with a single conditional write pinned to the Revision.
//
// RedisStore scripts touch the user hash, the code hash and the unique index
// keys together, which Redis Cluster rejects across hash slots. Run it
// against a single node or a sentinel group.
package credential
