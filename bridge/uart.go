// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"

	"github.com/bbnote/netdap"
)

const (
	DefaultAddr     = ":1234"
	DefaultBaudrate = 74880

	bufferSize  = 512
	maxBaudrate = 2000000
)

// Opener opens the serial port at the given baud rate.
type Opener func(baudrate uint) (io.ReadWriteCloser, error)

// SerialOpener returns an Opener for the named port with 8N1 framing.
func SerialOpener(port string) Opener {
	return func(baudrate uint) (io.ReadWriteCloser, error) {
		return serial.Open(serial.OpenOptions{
			PortName:        port,
			BaudRate:        baudrate,
			DataBits:        8,
			StopBits:        1,
			ParityMode:      serial.PARITY_NONE,
			MinimumReadSize: 1,
		})
	}
}

// UART forwards a serial port to one TCP client at a time.
type UART struct {
	open     Opener
	baudrate uint
	log      *logrus.Entry
}

func NewUART(open Opener, baudrate uint, log *logrus.Entry) *UART {
	if baudrate == 0 {
		baudrate = DefaultBaudrate
	}
	if log == nil {
		log = logrus.NewEntry(netdap.Logger())
	}

	return &UART{
		open:     open,
		baudrate: baudrate,
		log:      log.WithField("proto", "uart"),
	}
}

func (u *UART) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return u.Serve(ctx, l)
}

// Serve accepts clients from l one after another. A client arriving while
// another one is connected waits in the listen backlog.
func (u *UART) Serve(ctx context.Context, l net.Listener) error {
	u.log.Infof("uart bridge listening on %s", l.Addr())

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
			return fmt.Errorf("uart bridge accept: %w", err)
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}

		u.log.Infof("uart client %s connected", conn.RemoteAddr())

		if err := u.ServeConn(ctx, conn); err != nil {
			u.log.Warnf("uart client %s: %v", conn.RemoteAddr(), err)
		} else {
			u.log.Infof("uart client %s disconnected", conn.RemoteAddr())
		}
	}
}

// parseBaudrate accepts a first message made of nothing but a decimal baud
// rate between 2 and 7 digits long.
func parseBaudrate(b []byte) (uint, bool) {
	if len(b) < 2 || len(b) > 7 {
		return 0, false
	}

	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
	}

	v, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil || v == 0 || v >= maxBaudrate || b[0] == '0' {
		return 0, false
	}

	return uint(v), true
}

type link struct {
	port io.ReadWriteCloser
	done chan struct{}
}

func (u *UART) attach(conn net.Conn, baudrate uint) (*link, error) {
	port, err := u.open(baudrate)
	if err != nil {
		return nil, err
	}

	l := &link{port: port, done: make(chan struct{})}

	go func() {
		defer close(l.done)

		buf := make([]byte, bufferSize)
		for {
			n, err := port.Read(buf)
			if n > 0 {
				if _, werr := conn.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return l, nil
}

func (l *link) close() {
	l.port.Close()
	<-l.done
}

// ServeConn bridges conn to the port until either side closes. If the first
// message of the client is a bare decimal number, the port is reopened at that
// baud rate instead of forwarding it.
func (u *UART) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	l, err := u.attach(conn, u.baudrate)
	if err != nil {
		return fmt.Errorf("open uart: %w", err)
	}
	defer func() {
		if l != nil {
			l.close()
		}
	}()

	buf := make([]byte, bufferSize)

	n, err := conn.Read(buf)
	if err != nil {
		return ignoreClosed(err)
	}

	if baudrate, ok := parseBaudrate(buf[:n]); ok {
		u.log.Infof("changing uart baud rate to %d", baudrate)

		l.close()

		reopened, err := u.attach(conn, baudrate)
		if err != nil {
			l = nil
			return fmt.Errorf("reopen uart at %d baud: %w", baudrate, err)
		}
		l = reopened
	} else if _, err := l.port.Write(buf[:n]); err != nil {
		return err
	}

	_, err = io.Copy(l.port, conn)

	return ignoreClosed(err)
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}
