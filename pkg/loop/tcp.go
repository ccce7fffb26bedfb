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

// TCP is a listening socket or a stream connection.
type TCP struct {
	base

	listener net.Listener
	conn     net.Conn

	// Fixed at creation.
	local  string
	remote string
}

// Listen opens a listening TCP socket and registers it.
func (l *Loop) Listen(ctx context.Context, network, address string) (*TCP, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	t := &TCP{listener: ln, local: ln.Addr().String()}
	t.init(l)
	if err := l.register(t); err != nil {
		_ = ln.Close()
		return nil, err
	}
	return t, nil
}

// Dial connects to address and registers the connection.
func (l *Loop) Dial(ctx context.Context, network, address string) (*TCP, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	return l.WrapConn(c)
}

// WrapConn registers an already established connection.
func (l *Loop) WrapConn(c net.Conn) (*TCP, error) {
	t := &TCP{conn: c}
	if a := c.LocalAddr(); a != nil {
		t.local = a.String()
	}
	if a := c.RemoteAddr(); a != nil {
		t.remote = a.String()
	}
	t.init(l)
	if err := l.register(t); err != nil {
		_ = c.Close()
		return nil, err
	}
	return t, nil
}

// Accept waits for an inbound connection on a listening handle and
// registers it.
func (t *TCP) Accept() (*TCP, error) {
	if t.listener == nil {
		return nil, fmt.Errorf("accept on a non-listening tcp handle")
	}
	c, err := t.listener.Accept()
	if err != nil {
		return nil, err
	}
	return t.loop.WrapConn(c)
}

// NetListener adapts a listening handle to net.Listener for servers such
// as net/http. Every accepted connection is registered as its own tcp
// handle and unregistered when the server closes it.
//
// # Examples
//
//	h, _ := lp.Listen(ctx, "tcp", ":9464")
//	_ = srv.Serve(h.NetListener())
func (t *TCP) NetListener() net.Listener {
	return &handleListener{h: t}
}

type handleListener struct {
	h *TCP
}

func (hl *handleListener) Accept() (net.Conn, error) {
	c, err := hl.h.Accept()
	if err != nil {
		return nil, err
	}
	return &handleConn{Conn: c.conn, h: c}, nil
}

func (hl *handleListener) Close() error { return hl.h.Close() }

func (hl *handleListener) Addr() net.Addr { return hl.h.listener.Addr() }

// handleConn closes through its handle so the registry stays in sync.
type handleConn struct {
	net.Conn
	h *TCP
}

func (c *handleConn) Close() error { return c.h.Close() }

// Kind returns KindTCP.
func (t *TCP) Kind() Kind { return KindTCP }

// LocalAddr returns the bound address as host:port.
func (t *TCP) LocalAddr() string { return t.local }

// RemoteAddr returns the peer address, or "" for listeners.
func (t *TCP) RemoteAddr() string { return t.remote }

// Listening reports whether the handle is a listener.
func (t *TCP) Listening() bool { return t.listener != nil }

// Conn returns the connection, or nil for listeners.
func (t *TCP) Conn() net.Conn { return t.conn }

// Listener returns the listener, or nil for connections.
func (t *TCP) Listener() net.Listener { return t.listener }

// Close closes the socket and unregisters the handle.
func (t *TCP) Close() error {
	if !t.markClosed(t) {
		return nil
	}
	if t.listener != nil {
		return t.listener.Close()
	}
	return t.conn.Close()
}
