// Package version carries build identity, overridable at link time
// with -ldflags "-X github.com/tactus-audio/tactus-go/internal/version.Version=...".
package version

var (
	Version      = "0.1.0"
	Product      = "tactus"
	Manufacturer = "Tactus Audio"
)
