package locator

import _ "embed"

// BindingName is the global function the script calls when the page runs
// under a CDP binding instead of inside an iframe.
const BindingName = "__livepage_binding"

//go:embed locator.js
var script string

// Script returns the in-preview selection script.
func Script() string { return script }

// Inject appends the selection script to doc. The document itself is not
// modified; the script is added after it, the way the preview frame loads it
// in edit mode.
func Inject(doc string) string {
	return doc + "<script>" + script + "</script>"
}
