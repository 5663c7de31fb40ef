// Package logx configures morningbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output
// readable (short timestamp and caller) and file output JSON-structured.
// The zero Logger discards everything.
package logx
