// Package rate holds the Redis fixed-window counters that throttle failed
// logins and failed second-factor attempts.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit of a window. Key prefixes:
//   - al:  failed logins per login key
//   - ali: failed logins per client IP
//   - a2f: failed second-factor attempts per user
package rate
