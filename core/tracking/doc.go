// Package tracking delivers an agent's position readings to the telemetry
// service.
//
// Every accepted reading goes through the same steps:
//
//	reading -> Throttle -> SendSingle -> ok: LastSentAt = CapturedAt
//	                                  -> fail: RetryBuffer.Push -> full? SendBatch
//
// The Throttle compares the reading against the last successful send, using the
// active cadence while an assignment exists and the idle cadence otherwise.
// Failed batches leave the buffer untouched; the next attempt happens on the
// next overflow or an explicit Flush, never on a timer.
//
// Tracker runs the Pipeline on a single worker goroutine so that the sampler
// never waits on the network and requests reach the service in capture order.
package tracking
