// Package registry provides the central "glue" for the module system.
//
// The Registry maps the names used in pipeline definitions (for example
// `library = "addition"`) to the compiled plugins and models that implement
// them. During startup it is populated by modules and then validated against
// the loaded pipelines, so a typo in a definition fails before any request
// runs.
package registry
