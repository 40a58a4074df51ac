// Package config holds the runtime configuration of the service. Values are
// layered: built-in defaults, an optional YAML file, DAPGRID_* environment
// variables and finally command-line flags, which the cli package applies.
package config
