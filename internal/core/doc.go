// Package core provides the business logic for PDF table extraction.
//
// This package holds all domain logic independent of any transport. It is
// used by the HTTP server, the batch CLI and tests without modification.
//
// # Architecture
//
// The package is organized around a few concepts:
//
//   - Page selection: [ParseSelection] turns a pages parameter into a
//     [PageSelection] once, at the boundary. [PageSelection.Resolve] checks it
//     against the document's page count.
//   - Page extraction: a [PageExtractor] returns the tables found on one page.
//     "No tables" is an empty slice; a failure is an [ExtractionError].
//   - Interactive runs: the [Orchestrator] extracts pages one at a time and
//     publishes [ProgressEvent] values to the run's [ProgressChannel].
//   - Batch runs: the [BatchEngine] extracts every page on a bounded worker
//     pool and assembles the results in page order.
//   - Streaming: an [Emitter] forwards a channel to one client [Transport]
//     with heartbeats.
//   - Artifacts: a [SessionIndex] names runs and their spreadsheets and finds
//     the newest spreadsheets for a document.
//   - Service: [Service] ties the pieces together behind one API.
//
// # Interactive Flow
//
//  1. Client calls [Service.StartInteractive] with a document, pages and mode
//  2. Validation errors are returned synchronously; no run is started
//  3. The run gets a session id and its own progress channel
//  4. Progress is read with [Service.Subscribe] and an [Emitter]
//  5. [Service.Result] waits for the terminal [RunSummary]
//
// Every run publishes exactly one terminal event, completion or error, and
// it is always the last event on the channel.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - SEL001-SEL002: Page selection errors
//   - EXT001-EXT002: Extraction and detection mode errors
//   - DOC001-DOC005: Document upload and lookup errors
//   - RUN001-RUN004: Run scheduling, lookup, cancellation and timeout
//   - ART001: Missing spreadsheets
//
// # Retention
//
// Uploaded documents and generated spreadsheets are removed by a [Janitor]
// once they are older than the retention window (24 hours by default).
package core
