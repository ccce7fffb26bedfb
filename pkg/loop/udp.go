// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loop

import (
	"context"
	"fmt"
	"net"
)

// UDP is a datagram socket, bound or connected.
type UDP struct {
	base

	pc     net.PacketConn
	local  string
	remote string
}

// ListenPacket binds a datagram socket and registers it.
func (l *Loop) ListenPacket(ctx context.Context, network, address string) (*UDP, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", address, err)
	}
	u := &UDP{pc: pc, local: pc.LocalAddr().String()}
	u.init(l)
	if err := l.register(u); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return u, nil
}

// DialPacket creates a connected datagram socket and registers it.
func (l *Loop) DialPacket(ctx context.Context, network, address string) (*UDP, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	pc, ok := c.(net.PacketConn)
	if !ok {
		_ = c.Close()
		return nil, fmt.Errorf("network %s is not a datagram network", network)
	}
	u := &UDP{pc: pc, local: c.LocalAddr().String(), remote: c.RemoteAddr().String()}
	u.init(l)
	if err := l.register(u); err != nil {
		_ = c.Close()
		return nil, err
	}
	return u, nil
}

// Kind returns KindUDP.
func (u *UDP) Kind() Kind { return KindUDP }

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() string { return u.local }

// RemoteAddr returns the connected peer, or "".
func (u *UDP) RemoteAddr() string { return u.remote }

// PacketConn returns the socket.
func (u *UDP) PacketConn() net.PacketConn { return u.pc }

// Close closes the socket and unregisters the handle.
func (u *UDP) Close() error {
	if !u.markClosed(u) {
		return nil
	}
	return u.pc.Close()
}
