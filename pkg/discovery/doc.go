// ABOUTME: mDNS service discovery package
// ABOUTME: Discover and advertise sync coordinators on the local network
// Package discovery provides mDNS service discovery for coordinators.
//
// A coordinator advertises _resonate-sync._tcp with its WebSocket path and
// id in TXT records. Devices browse and receive each coordinator once.
//
// Example:
//
//	m := discovery.NewManager(discovery.Config{})
//	m.Browse()
//	srv := <-m.Servers()
//	fmt.Printf("Found: %s at %s\n", srv.Name, srv.Addr())
package discovery
