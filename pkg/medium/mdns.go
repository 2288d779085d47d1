// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package medium

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service a hub advertises
	ServiceType = "_lumenmesh._tcp"

	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."

	// DefaultBrowseTimeout bounds hub lookup
	DefaultBrowseTimeout = 5 * time.Second
)

// Advertisement is a running mDNS registration
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise announces a hub listening on port. Shutdown withdraws it.
func Advertise(instance string, port int, txt ...string) (*Advertisement, error) {
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, append([]string{"path=/"}, txt...), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertisement{server: server}, nil
}

// Shutdown stops answering mDNS queries
func (a *Advertisement) Shutdown() {
	a.server.Shutdown()
}

// HubURL builds the WebSocket URL for a browsed hub. IPv4 is preferred.
func HubURL(entry *zeroconf.ServiceEntry) (string, bool) {
	var host string
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host = "[" + entry.AddrIPv6[0].String() + "]"
	}
	if host == "" || entry.Port == 0 {
		return "", false
	}

	path := "/"
	for _, txt := range entry.Text {
		if p, ok := strings.CutPrefix(txt, "path="); ok && strings.HasPrefix(p, "/") {
			path = p
		}
	}
	return fmt.Sprintf("ws://%s:%d%s", host, entry.Port, path), true
}

// Browse returns the URL of the first hub found, optionally matching an
// instance name
func Browse(ctx context.Context, instance string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func() {
		for entry := range entries {
			if instance != "" && entry.Instance != instance {
				continue
			}
			if u, ok := HubURL(entry); ok {
				select {
				case found <- u:
				default:
				}
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return "", fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case u := <-found:
		return u, nil
	case <-ctx.Done():
		select {
		case u := <-found:
			return u, nil
		default:
		}
		return "", fmt.Errorf("no %s hub found within %v", ServiceType, timeout)
	}
}
