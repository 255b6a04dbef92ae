// Package config defines the format-agnostic description of pipelines and
// requests, along with the Loader interface that format-specific packages
// implement.
//
// The `config.Model` is the single source of truth for the `pipeline`
// package. Concrete loaders, such as the HCL one, live in separate packages.
package config
