// Package store provides SQLite-backed persistent tables for UI table widgets.
//
// Every table is registered in the ui_tables catalogue with its ordered field
// list and page size. Rows carry an INTEGER PRIMARY KEY id that is appended as
// the last cell whenever rows are read, so a Table satisfies
// deltalist.RowStore directly.
//
// Relations between two tables live in link tables named <from>2<to>. A link
// row references both ends with ON DELETE CASCADE and may carry its own
// fields.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Rows are always read in id order so offsets are stable between reads.
package store
