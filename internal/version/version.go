// ABOUTME: Build-time version constants surfaced in client/hello device info
package version

const (
	Version      = "0.1.0"
	Product      = "Resonate Player"
	Manufacturer = "resonatehq-oss"
)
