// Package config loads the engine's YAML configuration.
//
// Files support ${VAR} environment expansion; duration fields are parsed from
// their string form and validated on load.
package config
