// Package core provides the import pipeline for the music library.
//
// This package holds the domain logic for bulk-loading a choir's sheet-music
// inventory from CSV, independent of any UI or transport layer. It is used by
// the web handlers, the libimport command and tests without modification.
//
// # Pipeline
//
// An import moves through fixed stages:
//
//  1. [Parse] turns the upload into a [Table] of header-keyed rows.
//  2. A [ColumnMapper] binds each logical [Field] to a header, pre-filled by
//     [ColumnMapper.AutoMap] from known spellings.
//  3. A [Matcher] looks for an existing catalog entry by title and composer.
//     The policy is chosen by name through [NewMatcher].
//  4. [Resolve] decides create, update or reject for every row.
//  5. The [Executor] applies the decisions one row at a time and records a
//     [RowOutcome] per row in a [Reporter].
//
// Row failures never stop the batch. Only a [ParseError] or a [MappingError]
// is fatal, and both happen before the first write.
//
// # Wizard Sessions
//
// [Service] keeps one [Wizard] per uploaded file. The wizard walks
// upload, preview, mapping, importing and results; importing can only be
// entered through [Wizard.StartImport], which freezes the mapping. Progress
// of a running import is broadcast to subscribers via [Service.SubscribeProgress].
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has its own code prefix:
//
//   - IMP: wizard and import errors (mapping, step, busy, expired)
//   - FILE: upload errors (size, type, empty, malformed)
//   - TPL: mapping template errors
//   - DB: storage errors (connections, timeouts)
//
// # Audit Logging
//
// Imports, exports and template changes are recorded in the audit log with
// severity levels:
//
//   - Low: template changes
//   - Medium: exports and cancelled imports
//   - High: completed and failed imports
package core
