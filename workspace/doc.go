// Package workspace prepares and tears down per-execution working
// directories: decoding payloads, laying out source files, collecting
// artifacts produced by the container and converting size strings.
package workspace
