// Package scheduler talks to the batch scheduler through its command line:
// one command submits a job script and acknowledges it with a job id, another
// lists a job while it is pending or running.
//
// Commands run through an Executor so tests can script scheduler responses.
package scheduler
