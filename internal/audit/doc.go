// Package audit delivers security events to pluggable sinks off the request
// path.
//
// A [Dispatcher] owns a buffered channel and one goroutine that forwards
// events to a [Sink]. When the buffer is full it either drops (counted by
// Dropped) or blocks until the caller's context ends. Sinks provided here
// cover a channel, newline delimited JSON, a zap logger and fan-out to
// several sinks; the Kafka sink lives in audit/kafkasink.
package audit
