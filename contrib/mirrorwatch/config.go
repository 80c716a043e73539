// Package mirrorwatch mirrors a MongoDB collection and broadcasts every
// change notification to connected websocket clients. It doubles as a worked
// example of wiring the mirror against a real deployment.
package mirrorwatch

import "fmt"

// Config holds all configuration options for a mirrorwatch run.
type Config struct {
	// MongoDB connection string (e.g. "mongodb://localhost:27017")
	URI string
	// Database holding the collection to mirror
	Database string
	// Collection to mirror
	Collection string

	// Address to serve websocket clients on
	Listen string
	// HTTP path clients connect to
	Path string

	// Enable verbose logging
	Verbose bool
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		URI:    "mongodb://localhost:27017",
		Listen: ":8080",
		Path:   "/watch",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	return nil
}
