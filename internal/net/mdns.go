package net

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service browsers on the LAN can look for.
const ServiceType = "_roomboard._tcp"

// Advertise announces the server on the local network. Callers must
// Shutdown the returned server.
func Advertise(port int, ips []net.IP) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	info := []string{"RoomBoard", "path=/ws"}
	service, err := mdns.NewMDNSService(
		host,        // instance name
		ServiceType, // service
		"",          // domain, defaults to .local
		"",          // host name, defaults to the OS host name
		port,
		ips, // nil lets mdns resolve the host's addresses
		info,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}
