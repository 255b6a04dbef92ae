// Package hcl provides the concrete HCL implementation of the config.Loader
// interface. It is responsible for file discovery, parsing, and translating
// `pipeline` and `tensor` blocks into the format-agnostic config model.
package hcl
