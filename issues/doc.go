// Package issues runs rule-based static checks over a decoded module.
//
// Detect evaluates every rule against the module and returns the findings
// in detection order. It never fails and has no side effects, so calling it
// twice on the same module yields the same list:
//
//	found := issues.Detect(m)
//	for _, is := range issues.Sorted(found) {
//	    fmt.Printf("%s %s: %s\n", is.Severity.Symbol(), is.Title, is.Description)
//	}
//
// Rules look at section completeness, memory limits, export and import
// patterns, code size and globals. Findings describe the module's health,
// not failures of the tool.
package issues
