// Package cli renders command output: status tables, plan previews, and
// run summaries.
package cli
