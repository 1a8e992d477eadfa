// Package config loads, validates, and defaults glossa's TOML configuration.
//
// Configuration is resolved from an explicit path, ~/.config/glossa/config.toml,
// or ./glossa.toml, overlaid onto compiled defaults. There is no global config
// state: the loaded Config is passed explicitly to every component at startup.
package config
