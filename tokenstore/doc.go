// Package tokenstore provides Redis and Postgres implementations of
// refresh.Store.
//
// Redis layout (prefix defaults to "rt"):
//
//	<prefix>:<id>        HASH  one refresh record, expires with the token
//	<prefix>u:<userID>   SET   record ids issued to the user
//	<prefix>f:<familyID> SET   record ids of one rotation chain
//
// Rotation and revocation run as Lua scripts so each is a single atomic step
// on the server. The scripts span record and index keys in different hash
// slots, so RedisStore needs a single-node (or sentinel) deployment, not
// Redis Cluster.
package tokenstore
