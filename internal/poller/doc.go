// Package poller determines, without push notification, when a batch job has
// finished and whether it succeeded.
//
// Success is the appearance of the job's expected output file. Failure is
// inferred when a job that was seen in the scheduler queue disappears and its
// output still has not shown up after a grace period. Jobs that never appear
// in the queue stay waiting until the tick budget runs out.
package poller
