// Package report renders decoded modules, issue lists and control-flow
// tables for terminals. Styling uses lipgloss and is disabled unless
// Options.Color is set.
package report
