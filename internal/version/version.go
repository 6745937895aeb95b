// ABOUTME: Build and product identification
// ABOUTME: Version can be overridden at link time with -ldflags "-X .../version.Version=..."
package version

import "fmt"

// Version is the release version
var Version = "0.1.0"

const (
	// Product names the player in handshakes and the UI
	Product = "Trackstream Player"
	// Manufacturer identifies the project
	Manufacturer = "Resonate Protocol"
)

// String returns the product and version for -version output
func String() string {
	return fmt.Sprintf("%s %s (%s)", Product, Version, Manufacturer)
}
