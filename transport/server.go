// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bbnote/netdap"
	"github.com/bbnote/netdap/elaphure"
	"github.com/bbnote/netdap/usbip"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAddr = ":3240"

	sniffSize       = 4
	readBufferSize  = 4096
	defaultResetTTL = 5 * time.Second
)

const (
	ProtoUSBIP     = "usbip"
	ProtoElaphure  = "elaphure"
	ProtoWebsocket = "websocket"
)

// Observer is told about session transitions.
type Observer interface {
	SessionChanged(state string, proto string, remote string)
}

// Server serves the probe to one client at a time. Every transport shares
// the same pipeline, so a client on one listener blocks the others.
type Server struct {
	pipeline *netdap.Pipeline
	identity usbip.Identity
	trace    usbip.TraceSource
	log      *logrus.Entry
	observer Observer

	resetTimeout time.Duration

	busy chan struct{}
}

type Option func(s *Server)

func WithIdentity(identity usbip.Identity) Option {
	return func(s *Server) {
		s.identity = identity
	}
}

// WithTrace serves trace data on usbip endpoint 2.
func WithTrace(trace *netdap.Trace) Option {
	return func(s *Server) {
		if trace != nil {
			s.trace = trace
		}
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(s *Server) {
		s.log = log
	}
}

func WithObserver(observer Observer) Option {
	return func(s *Server) {
		s.observer = observer
	}
}

func NewServer(pipeline *netdap.Pipeline, options ...Option) *Server {
	s := &Server{
		pipeline:     pipeline,
		identity:     usbip.DefaultIdentity(),
		resetTimeout: defaultResetTTL,
		busy:         make(chan struct{}, 1),
	}

	for _, option := range options {
		option(s)
	}

	if s.log == nil {
		s.log = logrus.NewEntry(netdap.Logger())
	}

	return s
}

func (s *Server) notify(state string, proto string, remote string) {
	if s.observer != nil {
		s.observer.SessionChanged(state, proto, remote)
	}
}

func (s *Server) acquire(ctx context.Context) error {
	select {
	case s.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) release() {
	<-s.busy
}

// reset drops whatever the finished session left in the pipeline. It must
// not depend on the session context, which may already be cancelled.
func (s *Server) reset() {
	ctx, cancel := context.WithTimeout(context.Background(), s.resetTimeout)
	defer cancel()

	if err := s.pipeline.Reset(ctx); err != nil {
		s.log.Errorf("pipeline reset failed: %v", err)
	}
}

// ListenAndServe accepts stream connections on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.log.Infof("listening on %s", l.Addr())

	return s.Serve(ctx, l)
}

// Serve accepts connections from l one after the other. A second client
// waits in the accept backlog until the current session ends.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
			tcp.SetKeepAlive(true)
		}

		if err := s.ServeConn(ctx, conn); err != nil && ctx.Err() == nil {
			s.log.Warnf("session with %s ended: %v", conn.RemoteAddr(), err)
		}
	}
}

/**
  ServeConn runs one session on conn. The first four bytes select the
  protocol: the elaphureLink identifier, an HTTP GET for the websocket
  endpoint, anything else is usbip. The peeked bytes stay in the reader.
*/
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	log := s.log.WithField("remote", remote)

	br := bufio.NewReaderSize(conn, readBufferSize)

	head, err := br.Peek(sniffSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	send := func(b []byte) error {
		_, err := conn.Write(b)
		return err
	}

	defer s.reset()

	switch {
	case elaphure.IsHandshake(head):
		log.Info("elaphureLink client connected")
		s.notify(usbip.StateEmulating.String(), ProtoElaphure, remote)
		defer s.notify(usbip.StateAccepting.String(), ProtoElaphure, remote)

		err = elaphure.NewProxy(s.pipeline, log).Serve(ctx, br, send)

	case string(head) == "GET ":
		log.Info("websocket client connected")
		s.notify(usbip.StateEmulating.String(), ProtoWebsocket, remote)
		defer s.notify(usbip.StateAccepting.String(), ProtoWebsocket, remote)

		err = s.upgrade(ctx, &bufferedConn{Conn: conn, r: br})

	default:
		log.Info("usbip client connected")

		options := []usbip.SessionOption{
			usbip.WithLogger(log.WithField("proto", ProtoUSBIP)),
			usbip.WithStateHook(func(state usbip.State) {
				s.notify(state.String(), ProtoUSBIP, remote)
			}),
		}
		if s.trace != nil {
			options = append(options, usbip.WithTrace(s.trace))
		}

		err = usbip.NewSession(s.identity, s.pipeline, options...).Serve(ctx, br, send)
	}

	if ctx.Err() != nil {
		return nil
	}

	return err
}

// bufferedConn reads through the reader that holds the sniffed bytes.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}
