package engine

import "github.com/spaghettifunk/rendercore/engine/renderer/driver"

type ApplicationConfig struct {
	// The application name, used to name the render systems.
	Name string
	// TOML file loaded at start and watched for changes. Empty uses config.Default().
	ConfigPath string
	// Overrides the configured log level when set.
	LogLevel string
	// Number of render systems recording in parallel every frame.
	Streams int
	// Stops after this many frames. Zero runs until Stop or cancellation.
	MaxFrames uint64
	// Drivers offered to the device context, in order of preference.
	Drivers []driver.Driver
}
