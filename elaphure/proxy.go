// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// elaphureLink carries raw CMSIS-DAP commands over a stream socket
// for detailed information see

// https://github.com/windowsair/elaphureLink

package elaphure

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bbnote/netdap"
	"github.com/sirupsen/logrus"
)

const (
	Identifier     = 0x8a656c70
	HandshakeSize  = 12
	DAPVersion     = 1
	VendorPrefix   = 0x88
	vendorHeader   = 4
	cmdHandshake   = 0
	maxPayloadSize = 1500
)

// vendor command types
const (
	TypePassthrough = 0x01
	TypeScopeEnter  = 0x02
	TypeScopeExit   = 0x03
)

var (
	ErrHandshake = errors.New("elaphure: bad handshake")
	ErrFraming   = errors.New("elaphure: framing error")
)

// Transactor executes one command frame and hands its response to send.
// *netdap.Pipeline implements it.
type Transactor interface {
	Transact(ctx context.Context, frame []byte, send func([]byte) error) error
}

// IsHandshake reports whether the first bytes of a connection carry the
// elaphureLink identifier.
func IsHandshake(b []byte) bool {
	return len(b) >= 4 && binary.BigEndian.Uint32(b) == Identifier
}

type Proxy struct {
	dev   Transactor
	log   *logrus.Entry
	async bool
}

func NewProxy(dev Transactor, log *logrus.Entry) *Proxy {
	if log == nil {
		log = logrus.NewEntry(netdap.Logger())
	}

	return &Proxy{
		dev: dev,
		log: log.WithField("proto", "elaphure"),
	}
}

func (p *Proxy) handshake(r io.Reader, send func([]byte) error) error {
	req := make([]byte, HandshakeSize)

	if _, err := io.ReadFull(r, req); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	if binary.BigEndian.Uint32(req) != Identifier || binary.BigEndian.Uint32(req[4:]) != cmdHandshake {
		return ErrHandshake
	}

	p.log.Debugf("proxy version %d", binary.BigEndian.Uint32(req[8:]))

	res := binary.BigEndian.AppendUint32(nil, Identifier)
	res = binary.BigEndian.AppendUint32(res, cmdHandshake)
	res = binary.BigEndian.AppendUint32(res, DAPVersion)

	return send(res)
}

/**
  Serve runs the handshake and then answers every received chunk. A chunk
  is a raw command frame unless it starts with the vendor prefix. After a
  scope enter command every packet is read as a four byte vendor header
  followed by its payload.
*/
func (p *Proxy) Serve(ctx context.Context, r io.Reader, send func([]byte) error) error {
	if err := p.handshake(r, send); err != nil {
		return err
	}

	p.log.Info("session started")
	p.async = false

	buf := make([]byte, maxPayloadSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var chunk []byte

		if p.async {
			packet, err := readPacket(r, buf)
			if err != nil {
				return eof(err)
			}
			chunk = packet
		} else {
			n, err := r.Read(buf)
			if n == 0 && err != nil {
				return eof(err)
			}
			chunk = buf[:n]
		}

		if err := p.process(ctx, chunk, send); err != nil {
			return err
		}
	}
}

func eof(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}

func readPacket(r io.Reader, buf []byte) ([]byte, error) {
	if _, err := io.ReadFull(r, buf[:vendorHeader]); err != nil {
		return nil, err
	}

	size := vendorHeader + int(binary.BigEndian.Uint16(buf[2:]))
	if size > len(buf) {
		return nil, fmt.Errorf("%w: packet of %d bytes", ErrFraming, size)
	}

	if _, err := io.ReadFull(r, buf[vendorHeader:size]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFraming, err)
	}

	return buf[:size], nil
}

func (p *Proxy) process(ctx context.Context, chunk []byte, send func([]byte) error) error {
	if len(chunk) == 0 {
		return nil
	}

	if chunk[0] != VendorPrefix {
		return p.dev.Transact(ctx, chunk, send)
	}

	for len(chunk) > 0 {
		if len(chunk) < vendorHeader {
			return fmt.Errorf("%w: short vendor header", ErrFraming)
		}

		size := vendorHeader + int(binary.BigEndian.Uint16(chunk[2:]))
		if size > len(chunk) {
			return fmt.Errorf("%w: vendor payload of %d bytes in %d", ErrFraming, size, len(chunk))
		}

		if err := p.vendor(ctx, chunk[1], chunk[vendorHeader:size], send); err != nil {
			return err
		}

		chunk = chunk[size:]
	}

	return nil
}

func (p *Proxy) vendor(ctx context.Context, kind byte, payload []byte, send func([]byte) error) error {
	switch kind {
	case TypePassthrough:
		if len(payload) == 0 {
			return fmt.Errorf("%w: empty passthrough", ErrFraming)
		}

		return p.dev.Transact(ctx, payload, func(resp []byte) error {
			msg := []byte{VendorPrefix, 0}
			msg = binary.BigEndian.AppendUint16(msg, uint16(len(resp)))

			return send(append(msg, resp...))
		})

	case TypeScopeEnter:
		p.log.Debug("async scope entered")
		p.async = true

	case TypeScopeExit:
		p.log.Debug("async scope left")
		p.async = false

	default:
		return fmt.Errorf("%w: vendor command 0x%02x", ErrFraming, kind)
	}

	return send([]byte{VendorPrefix, 0, 0, 0})
}
