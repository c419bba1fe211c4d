// Package logparse parses advertising-exchange bid/win logs and aggregates
// them into a [Summary].
//
// A log is a comma-separated file whose first row is a header. Columns are
// identified by name, in any order and any letter case; see
// [RequiredColumns]. Parsing is a single streaming pass:
//
//  1. [ResolveSchema] maps the header to column positions, once
//  2. [Schema.Decode] turns each row into a [Record]
//  3. [Aggregator.Add] folds the record into running totals
//  4. [Aggregator.Finalize] computes ratios and averages
//
// [Parser.Parse] drives the four steps over an io.Reader and checks the
// context before every row. Rows are never rejected: cells that fail to
// parse become zero values and are reported as [FieldError] diagnostics.
//
// # Errors
//
//   - [*SchemaError]: a required column is missing, nothing was read
//   - [*StreamError]: the input failed mid-stream
//   - context.Canceled / context.DeadlineExceeded: the parse was stopped
//
// In every error case no summary is returned.
package logparse
