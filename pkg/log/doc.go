/*
Package log provides structured logging for Kiln using zerolog.

Init configures the global logger once at process start (level, JSON
or console output); packages take child loggers via WithComponent and
the worker side adds job context via WithJobUID.
*/
package log
