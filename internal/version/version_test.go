// ABOUTME: Tests for build identification
// ABOUTME: Checks the link-time override reaches the startup banner
package version

import (
	"strings"
	"testing"
)

func TestBannerUsesLinkedVersion(t *testing.T) {
	saved := Version
	defer func() { Version = saved }()

	// what -ldflags "-X .../version.Version=v2.3.4" does at link time
	Version = "v2.3.4"

	if got := Banner("coordinator"); got != "Resonate Sync coordinator v2.3.4" {
		t.Errorf("unexpected banner %q", got)
	}
}

func TestDevelopmentBuildIsMarked(t *testing.T) {
	if !strings.HasSuffix(Version, "-dev") {
		t.Errorf("unlinked builds should carry a -dev version, got %q", Version)
	}
	if got := Banner("player"); !strings.HasPrefix(got, Product+" player ") {
		t.Errorf("banner should lead with the product and role, got %q", got)
	}
}
