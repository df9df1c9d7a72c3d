// Package config manages booksnap settings.
//
// Settings live in a JSON file and start from DefaultSettings when the
// file is absent. Every field can also be overridden through BOOKSNAP_*
// environment variables (a .env file is honored), which takes precedence
// over the file:
//
//	settings, err := config.Load(path)
//	if err != nil { ... }
//	if err := settings.ApplyEnv(); err != nil { ... }
package config
