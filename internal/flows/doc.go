// Package flows contains the orchestration behind every Engine operation.
//
// Each Run function takes a typed dependency struct and returns either a
// result or an error taken from the Errors mapping of that struct. Flows
// hold no state between calls and never import the root package; metric
// ids, audit event names and host errors are all injected.
package flows
