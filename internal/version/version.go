// ABOUTME: Build and product identification
// ABOUTME: Version is overridden at link time with -ldflags "-X ...version.Version=v1.2.3"
package version

import "fmt"

// Version of the build. It must stay a plain string var for -X to set it.
var Version = "0.1.0-dev"

const (
	// Product is reported in device/hello and server/hello
	Product = "Resonate Sync"

	// Manufacturer is reported in device/hello
	Manufacturer = "Resonate"
)

// Banner names the product, the binary's role and the build, as printed
// by -version and logged at startup
func Banner(role string) string {
	return fmt.Sprintf("%s %s %s", Product, role, Version)
}
