// Package account lays out the per-account directory under the base dir and
// picks which account a command runs as.
package account

import "github.com/babelbye/bbchat/internal/config"

const DefaultName = "main"

// Resolve determines the active account name using precedence:
// 1. flagOverride (--account flag)
// 2. config.toml default_account
// 3. "main"
func Resolve(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultAccount != "" {
		return cfg.DefaultAccount
	}
	return DefaultName
}
