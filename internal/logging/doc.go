// Package logging provides opt-in file-based logging with rotation for Nellie.
// When enabled, structured JSON logs are written to a rotating file under
// the configured data directory, keeping stdout free for any JSON-RPC-style
// transport a front-end layers on top of this package.
package logging
