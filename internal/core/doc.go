// Package core holds the member roster import pipeline.
//
// It has no transport or storage dependencies. Web handlers, the CLI and
// tests drive it through [Service]; persistence comes in through the
// [Store] interface and the field dictionary through [SchemaRegistry].
//
// # Field dictionary
//
// Members have no fixed columns. Every column is a [FieldDefinition] with a
// type, an optional secondary rule (list, regex or range) and an optional
// semantic role. One field may act as the national id; its canonical value
// is the member's natural key. First and last name fields form the
// secondary key used when a row has no national id.
//
// # Interactive imports
//
//  1. [Service.StageBatch] validates and classifies rows into a session:
//     new, update, unchanged or error.
//  2. The session is reviewed with [Service.GetSession]; rows can be fixed
//     with [Service.ReviseStagedRow] or dropped with [Service.DeleteStagedRow].
//  3. [Service.CommitSession] applies it in one transaction. It refuses
//     while any row is still an error.
//
// # Bulk imports
//
// [Service.StartBulkJob] skips staging. It returns a job id at once and
// writes rows in the background in batches; callers poll
// [Service.JobStatus] until the job is completed or failed.
//
// # Error Handling
//
// Sentinel errors are wrapped with %w and tested with errors.Is. [MapError]
// turns any error into a coded [UserMessage] for display.
//
// # Audit Logging
//
// Every write records an [AuditEvent]: uploads (with their job status),
// modifications (per-row changes and bulk summaries) and downloads. Events
// expire after [AuditRetention]; [Service.StartMaintenanceScheduler] purges
// them.
package core
