// Package testutil provides shared helpers for tests that drive the whole
// application from HCL files on disk.
package testutil
