// Package config loads tdl settings.
//
// Sources, lowest precedence first:
//   - built-in defaults
//   - $XDG_CONFIG_HOME/tdl/config.toml, or the file passed to Load
//   - .env and .env.local in the working directory
//   - TDL_* environment variables, with "." in keys replaced by "_"
//
// Example:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	// TDL_RETRY_MAX_ATTEMPTS=5 overrides retry.max_attempts
//	fmt.Println(cfg.Retry.MaxAttempts)
//
// Load validates the result, so a returned Config is always usable.
package config
