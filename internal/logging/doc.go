// Package logging provides file-based logging with rotation for the hybrid
// search core. Structured JSON logs are written to ~/.hybridcore/logs/ and
// mirrored to stderr; the --debug flag lowers the level from info to debug.
package logging
