package config

import "sync/atomic"

var current atomic.Value

// Init installs the default configuration. Safe to call more than once;
// later calls simply reset to defaults.
func Init() {
	c := Default()
	current.Store(&c)
}

// Load returns the process-wide configuration. If Init/Swap was never
// called, it installs Default() and returns that.
func Load() *Config {
	v := current.Load()
	if v == nil {
		c := Default()
		current.Store(&c)
		v = current.Load()
	}
	return v.(*Config)
}

// Update applies mut to a copy of the current configuration and installs
// the result, following a copy-on-write discipline so concurrent readers
// never observe a partially mutated Config.
func Update(mut func(*Config)) *Config {
	c := *Load()
	mut(&c)
	current.Store(&c)
	return &c
}

// Swap installs next as the process-wide configuration wholesale.
func Swap(next Config) *Config {
	current.Store(&next)
	return &next
}
