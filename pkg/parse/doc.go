/*
Package parse holds the scalar value parsers shared by every front-end:
node counts, memory sizes, time limits, signal specifications, task
distributions, and mail types, plus the sentinel constants the wire
format uses for "unset" and "unlimited".

Parsers return *Error with the offending token so callers can report
"salloc: error: invalid time limit "1:2:3:4"" style diagnostics
without rebuilding context.
*/
package parse
