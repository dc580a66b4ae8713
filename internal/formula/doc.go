// Package formula is the calculation engine behind a sheet.
//
// It turns formula text such as "=SUM(A1:A3)*10%" into a value by running a
// fixed pipeline over the text: aggregate calls are expanded first, remaining
// cell references are substituted with their stored values, percent literals
// are normalized, and the arithmetic that is left is evaluated by a small
// recursive-descent evaluator. The engine never evaluates a referenced cell's
// formula; it reads the value last stored for that cell.
//
// Storage is reached only through the Source and Sink interfaces, so the same
// engine runs against Postgres, SQLite, an in-memory store or an xlsx
// workbook loaded into memory.
//
// After a plain value edit, FindDependents reports formula cells on the same
// sheet that mention the edited cell, and a Recalculator re-evaluates them and
// writes the results back, storing an error marker for any that fail.
package formula
