// Package config loads the ledger node configuration from YAML or JSON
// files, fills in defaults and applies environment overrides for secrets.
package config
