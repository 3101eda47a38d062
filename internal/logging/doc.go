// Package logging provides structured, file-rotated logging for the core.
// Comprehensive logs are written to ~/.nexus/logs/ for debugging and
// troubleshooting; a multi-writer optionally mirrors output to stderr.
package logging
