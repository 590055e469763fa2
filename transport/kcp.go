// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/xtaci/kcp-go/v5"
)

// KCP tuning: fast mode without congestion control
const (
	kcpNoDelay  = 2
	kcpInterval = 2
	kcpResend   = 2
	kcpNoCC     = 1
	kcpWindow   = 4096
	kcpMTU      = 768

	// kcp has no close handshake, a silent peer is dropped after this
	kcpIdleTimeout = 5 * time.Minute
)

// ServeKCP runs the same sessions as Serve over KCP on the udp address addr.
func (s *Server) ServeKCP(ctx context.Context, addr string) error {
	l, err := kcp.ListenWithOptions(addr, nil, 0, 0)
	if err != nil {
		return err
	}

	s.log.Infof("listening for kcp on %s", l.Addr())

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		sess, err := l.AcceptKCP()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kcp accept: %w", err)
		}

		sess.SetNoDelay(kcpNoDelay, kcpInterval, kcpResend, kcpNoCC)
		sess.SetWindowSize(kcpWindow, kcpWindow)
		sess.SetMtu(kcpMTU)
		sess.SetACKNoDelay(true)

		if err := s.ServeConn(ctx, &idleConn{Conn: sess, timeout: kcpIdleTimeout}); err != nil && ctx.Err() == nil {
			s.log.Warnf("kcp session with %s ended: %v", sess.RemoteAddr(), err)
		}
	}
}

type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(b []byte) (int, error) {
	c.Conn.SetReadDeadline(time.Now().Add(c.timeout))

	return c.Conn.Read(b)
}
