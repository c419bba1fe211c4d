// Package core runs bid/win log analyses as observable background jobs.
//
// The package sits between the transport layer and the parsing engine. It
// knows nothing about HTTP and can be driven by handlers, a CLI or tests.
//
// # Processing
//
// [Service.Process] takes a stored upload and returns a [JobStatus]
// immediately:
//
//  1. The file extension is checked with [CheckFormat]; non-CSV files
//     produce a job that has already failed
//  2. A file with a stored result completes at once unless Request.Force
//  3. A slot is taken from the [JobLimiter]; when none frees up in time
//     Process fails with [ErrTooManyJobs]
//  4. The log is parsed on its own goroutine and the summary is saved
//
// Jobs move through pending, running and one of completed, failed or
// cancelled. Callers poll [Service.Status], block on [Service.Wait] or
// stream updates from [Service.Subscribe]. [Service.Cancel] stops a job at
// the next row; a cancelled or failed job never writes a result.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError].
// Each category has a code for support reference:
//
//   - VAL001: missing user or file id
//   - VAL004: missing log column
//   - FILE001-FILE007: size, CSV framing, format and lookup errors
//   - UPL001-UPL005: cancelled, busy, unknown job, request cancelled, timeout
//   - RES001: no stored result
//   - DB004, DB006: result storage unavailable or slow
package core
