// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/bbnote/netdap/usbip"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/websocket"
)

// WebsocketHandler serves command frames over websocket: every binary
// message is one frame and is answered by one message. The handler takes
// the session slot itself, so it can be mounted on any http server.
func (s *Server) WebsocketHandler() http.Handler {
	return websocket.Server{Handler: func(ws *websocket.Conn) {
		ctx := ws.Request().Context()

		if err := s.acquire(ctx); err != nil {
			return
		}
		defer s.release()
		defer s.reset()

		remote := ws.Request().RemoteAddr
		s.notify(usbip.StateEmulating.String(), ProtoWebsocket, remote)
		defer s.notify(usbip.StateAccepting.String(), ProtoWebsocket, remote)

		s.serveWebsocket(ctx, ws)
	}}
}

func (s *Server) serveWebsocket(ctx context.Context, ws *websocket.Conn) {
	log := s.log.WithField("remote", ws.Request().RemoteAddr).WithField("proto", ProtoWebsocket)

	ws.PayloadType = websocket.BinaryFrame

	for {
		var frame []byte

		if err := websocket.Message.Receive(ws, &frame); err != nil {
			log.Debugf("websocket closed: %v", err)
			return
		}

		if len(frame) == 0 {
			continue
		}

		err := s.pipeline.Transact(ctx, frame, func(resp []byte) error {
			return websocket.Message.Send(ws, resp)
		})
		if err != nil {
			log.Warnf("command failed: %v", err)
			return
		}
	}
}

// upgrade hands a sniffed connection to an http server that serves only it.
func (s *Server) upgrade(ctx context.Context, conn net.Conn) error {
	done := make(chan struct{})

	srv := &http.Server{
		Handler: websocket.Server{Handler: func(ws *websocket.Conn) {
			defer close(done)
			s.serveWebsocket(ctx, ws)
		}},
	}

	l := newOneShotListener(conn)

	go func() {
		select {
		case <-done:
		case <-ctx.Done():
		}
		srv.Close()
	}()

	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

// ServeWebsocketTLS serves WebsocketHandler on host with a certificate from
// Let's Encrypt.
func (s *Server) ServeWebsocketTLS(ctx context.Context, host string) error {
	srv := &http.Server{Handler: s.WebsocketHandler()}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.log.Infof("websocket endpoint on https://%s", host)

	err := srv.Serve(autocert.NewListener(host))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// ServeWebsocket serves WebsocketHandler on a plain listener.
func (s *Server) ServeWebsocket(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.WebsocketHandler()}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.log.Infof("websocket endpoint on %s", addr)

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

type oneShotListener struct {
	mu     sync.Mutex
	conn   net.Conn
	addr   net.Addr
	closed chan struct{}
	once   sync.Once
}

func newOneShotListener(conn net.Conn) *oneShotListener {
	return &oneShotListener{
		conn:   conn,
		addr:   conn.LocalAddr(),
		closed: make(chan struct{}),
	}
}

func (l *oneShotListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn != nil {
		return conn, nil
	}

	<-l.closed

	return nil, net.ErrClosed
}

func (l *oneShotListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
	})

	return nil
}

func (l *oneShotListener) Addr() net.Addr {
	return l.addr
}
