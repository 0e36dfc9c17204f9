// Package config loads the optional singleschedule config file (JSON or
// YAML) with strict decoding and follows it for changes with fsnotify.
package config
