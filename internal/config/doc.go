// Package config loads, normalizes, and validates billingest configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads optional .env files, and honours
// environment fallbacks such as BILLINGEST_ARCHIVE_URL. The Config type
// centralizes every knob the daemon and CLI need so input, dataset, archive,
// and state directories are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
