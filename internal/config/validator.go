// Thin wrapper around go-playground/validator.  The loader calls
// validateStruct after unmarshalling YAML + env into a Config instance; any
// tag mismatch aborts startup, so the binary never runs with partial or
// unknown configuration.
package config

import "github.com/go-playground/validator/v10"

var v = validator.New()

func validateStruct(c *Config) error { return v.Struct(c) }
