// ABOUTME: Tests for mDNS service discovery
// ABOUTME: Validates Manager lifecycle, TXT records and entry conversion
package discovery

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

type discard struct{}

func (discard) Printf(string, ...any) {}

func TestNewManagerDefaults(t *testing.T) {
	manager := NewManager(Config{ServiceName: "test-service", Port: 8927, Logger: discard{}})
	defer manager.Stop()

	if manager.config.BrowseTimeout != 3*time.Second {
		t.Errorf("expected 3s browse timeout, got %v", manager.config.BrowseTimeout)
	}
	if manager.Servers() == nil {
		t.Fatal("Servers() returned nil channel")
	}
}

func TestManagerStop(t *testing.T) {
	manager := NewManager(Config{ServiceName: "test", Port: 8080, Logger: discard{}})
	manager.Stop()

	select {
	case <-manager.ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("Context should be cancelled after Stop()")
	}

	// Second stop is harmless
	manager.Stop()
}

func TestTXTRecords(t *testing.T) {
	got := txtRecords(Config{Path: "/resonate-sync", ServerID: "abc"})
	want := []string{"path=/resonate-sync", "id=abc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if txtRecords(Config{}) != nil {
		t.Error("expected no records for empty config")
	}
}

func TestEntryInfo(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "Living Room._resonate-sync._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.100"),
		Port:       8927,
		InfoFields: []string{"path=/resonate-sync", "id=srv-1", "junk"},
	}

	info := entryInfo(entry)
	if info == nil {
		t.Fatal("expected info")
	}
	if info.Name != "Living Room" || info.ID != "srv-1" || info.Path != "/resonate-sync" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.Addr() != "192.168.1.100:8927" {
		t.Errorf("unexpected addr %s", info.Addr())
	}

	if entryInfo(&mdns.ServiceEntry{Name: "v6 only"}) != nil {
		t.Error("entries without IPv4 should be skipped")
	}
}

func TestFirstSighting(t *testing.T) {
	manager := NewManager(Config{Logger: discard{}})
	defer manager.Stop()

	a := &ServerInfo{ID: "srv-1", Host: "10.0.0.1", Port: 1}
	if !manager.firstSighting(a) {
		t.Error("first sighting should report")
	}
	if manager.firstSighting(&ServerInfo{ID: "srv-1", Host: "10.0.0.2", Port: 2}) {
		t.Error("same id should be reported once")
	}
	if !manager.firstSighting(&ServerInfo{Host: "10.0.0.3", Port: 3}) {
		t.Error("id-less entries are keyed by address")
	}
}

func TestGetLocalIPs(t *testing.T) {
	ips, err := getLocalIPs()
	if err != nil {
		t.Fatalf("getLocalIPs failed: %v", err)
	}

	for _, ip := range ips {
		if ip.To4() == nil {
			t.Errorf("getLocalIPs returned non-IPv4 address: %v", ip)
		}
		if ip.IsLoopback() {
			t.Errorf("getLocalIPs returned loopback address: %v", ip)
		}
	}
}
