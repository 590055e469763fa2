// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package bridge

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

// fakePort is one open instance of the serial port. The test plays the
// target on the other ends of the pipes.
type fakePort struct {
	rx *io.PipeReader // target -> bridge
	tx *io.PipeWriter // bridge -> target
}

func (p *fakePort) Read(b []byte) (int, error) { return p.rx.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.tx.Write(b) }

func (p *fakePort) Close() error {
	p.rx.Close()
	p.tx.Close()
	return nil
}

type target struct {
	out *io.PipeWriter
	in  *io.PipeReader
}

type fakeSerial struct {
	mu        sync.Mutex
	baudrates []uint
	opened    chan target
}

func newFakeSerial() *fakeSerial {
	return &fakeSerial{opened: make(chan target, 4)}
}

func (s *fakeSerial) open(baudrate uint) (io.ReadWriteCloser, error) {
	s.mu.Lock()
	s.baudrates = append(s.baudrates, baudrate)
	s.mu.Unlock()

	rxr, rxw := io.Pipe()
	txr, txw := io.Pipe()

	s.opened <- target{out: rxw, in: txr}

	return &fakePort{rx: rxr, tx: txw}, nil
}

func (s *fakeSerial) opens() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]uint(nil), s.baudrates...)
}

func (s *fakeSerial) next(c *qt.C) target {
	select {
	case t := <-s.opened:
		return t
	case <-time.After(5 * time.Second):
		c.Fatal("port never opened")
	}
	return target{}
}

func startBridge(c *qt.C) (*fakeSerial, string) {
	ctx, cancel := context.WithCancel(context.Background())
	c.Cleanup(cancel)

	port := newFakeSerial()
	u := NewUART(port.open, 0, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)

	go u.Serve(ctx, l)

	return port, l.Addr().String()
}

func dial(c *qt.C, addr string) net.Conn {
	conn, err := net.Dial("tcp", addr)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { conn.Close() })

	conn.SetDeadline(time.Now().Add(5 * time.Second))

	return conn
}

func TestForwardsBothWays(t *testing.T) {
	c := qt.New(t)
	port, addr := startBridge(c)

	conn := dial(c, addr)
	tgt := port.next(c)

	_, err := conn.Write([]byte("help\r\n"))
	c.Assert(err, qt.IsNil)

	buf := make([]byte, 6)
	_, err = io.ReadFull(tgt.in, buf)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf), qt.Equals, "help\r\n")

	go tgt.out.Write([]byte("ok> "))

	buf = make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf), qt.Equals, "ok> ")

	c.Assert(port.opens(), qt.DeepEquals, []uint{DefaultBaudrate})
}

func TestFirstMessageChangesBaudrate(t *testing.T) {
	c := qt.New(t)
	port, addr := startBridge(c)

	conn := dial(c, addr)
	port.next(c)

	_, err := conn.Write([]byte("115200"))
	c.Assert(err, qt.IsNil)

	tgt := port.next(c)

	_, err = conn.Write([]byte("x"))
	c.Assert(err, qt.IsNil)

	buf := make([]byte, 1)
	_, err = io.ReadFull(tgt.in, buf)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf), qt.Equals, "x")

	c.Assert(port.opens(), qt.DeepEquals, []uint{DefaultBaudrate, 115200})
}

func TestNextClientAfterDisconnect(t *testing.T) {
	c := qt.New(t)
	port, addr := startBridge(c)

	first := dial(c, addr)
	port.next(c)
	first.Close()

	second := dial(c, addr)
	tgt := port.next(c)

	go tgt.out.Write([]byte("boot\n"))

	buf := make([]byte, 5)
	_, err := io.ReadFull(second, buf)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf), qt.Equals, "boot\n")
}

func TestParseBaudrate(t *testing.T) {
	c := qt.New(t)

	for _, test := range []struct {
		in   string
		baud uint
		ok   bool
	}{
		{"115200", 115200, true},
		{"74880", 74880, true},
		{"96", 96, true},
		{"1500000", 1500000, true},
		{"9", 0, false},
		{"2000000", 0, false},
		{"12345678", 0, false},
		{"0115200", 0, false},
		{"115200\n", 0, false},
		{"AT", 0, false},
	} {
		baud, ok := parseBaudrate([]byte(test.in))
		c.Check(ok, qt.Equals, test.ok, qt.Commentf("%q", test.in))
		c.Check(baud, qt.Equals, test.baud, qt.Commentf("%q", test.in))
	}
}
