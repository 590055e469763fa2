// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

// skipTransferRequests consumes count DAP_Transfer requests that will not be
// executed, so batched commands behind them still decode.
func skipTransferRequests(req *request, count int) {
	for ; count > 0; count-- {
		b := req.ReadByte()

		if b&transferRnW == 0 || b&transferMatchValue != 0 {
			req.Skip(4)
		}
	}
}

/**
  DAP_Transfer: runs the requests in order and stops at the first one that
  is not acknowledged with OK. Reads that the port posts are collected with
  the following access or a final RDBUFF read; a trailing write is checked
  with an RDBUFF read as well.
*/
func (p *Processor) dapTransfer(req *request, resp *Buffer) {
	index := req.ReadByte()
	count := int(req.ReadByte())

	// an abort only stops a transfer that is already running
	p.abort.Store(false)

	countPos := resp.Len()
	resp.WriteByte(0)
	resp.WriteByte(0)

	port := p.activePort(index)
	if port == nil {
		skipTransferRequests(req, count)
		return
	}

	var (
		ack        Ack
		data       uint32
		completed  int
		postRead   bool
		checkWrite bool
		i          int
	)

	for i < count {
		if p.abort.Load() || !resp.Fits(8) {
			break
		}

		b := req.ReadByte()
		i++

		var value uint32
		if b&transferRnW == 0 || b&transferMatchValue != 0 {
			value = req.ReadUint32LE()
		}

		r := p.request(b, value)

		if r.RnW {
			if postRead {
				if port.posted(r) && b&transferMatchValue == 0 {
					// previous result comes back, this read gets posted
					ack, data = port.Transfer(r)
				} else {
					ack, data = port.Transfer(p.rdbuff())
					postRead = false
				}

				if ack != AckOK {
					break
				}

				resp.WriteUint32LE(data)
			}

			if b&transferMatchValue != 0 {
				if port.posted(r) {
					if ack, _ = port.Transfer(r); ack != AckOK {
						break
					}
				}

				retry := p.transfer.matchRetry
				for {
					ack, data = port.Transfer(r)

					if ack != AckOK || data&p.transfer.matchMask == value || retry == 0 || p.abort.Load() {
						break
					}
					retry--
				}

				if ack == AckOK && data&p.transfer.matchMask != value {
					ack |= AckMismatch
				}

				if ack != AckOK {
					break
				}
			} else if port.posted(r) {
				if !postRead {
					if ack, _ = port.Transfer(r); ack != AckOK {
						break
					}
					postRead = true
				}

				if b&transferTimestamp != 0 {
					resp.WriteUint32LE(p.timestamp())
				}
			} else {
				if ack, data = port.Transfer(r); ack != AckOK {
					break
				}

				if b&transferTimestamp != 0 {
					resp.WriteUint32LE(p.timestamp())
				}

				resp.WriteUint32LE(data)
			}

			checkWrite = false
		} else {
			if postRead {
				if ack, data = port.Transfer(p.rdbuff()); ack != AckOK {
					break
				}

				resp.WriteUint32LE(data)
				postRead = false
			}

			if b&transferMatchMask != 0 {
				p.transfer.matchMask = value
				ack = AckOK
			} else {
				if ack, _ = port.Transfer(r); ack != AckOK {
					break
				}

				if b&transferTimestamp != 0 {
					resp.WriteUint32LE(p.timestamp())
				}

				checkWrite = true
			}
		}

		completed++
	}

	if ack == AckOK {
		if postRead {
			if ack, data = port.Transfer(p.rdbuff()); ack == AckOK {
				resp.WriteUint32LE(data)
			}
		} else if checkWrite {
			ack, _ = port.Transfer(p.rdbuff())
		}
	}

	skipTransferRequests(req, count-i)

	resp.SetByte(countPos, byte(completed))
	resp.SetByte(countPos+1, byte(ack))

	if ack != AckOK {
		logger.Debugf("dap transfer stopped after %d of %d requests: %s", completed, count, ack)
	}

	p.abort.Store(false)
}

func (p *Processor) dapTransferBlock(req *request, resp *Buffer) {
	index := req.ReadByte()
	count := int(req.ReadUint16LE())
	b := req.ReadByte()

	p.abort.Store(false)

	countPos := resp.Len()
	resp.WriteUint16LE(0)
	resp.WriteByte(0)

	port := p.activePort(index)
	if port == nil || count == 0 {
		if b&transferRnW == 0 {
			req.Skip(4 * count)
		}
		return
	}

	var (
		ack       Ack
		data      uint32
		completed int
	)

	r := p.request(b, 0)

	if r.RnW {
		posted := port.posted(r)
		if posted {
			ack, _ = port.Transfer(r)
		}

		if !posted || ack == AckOK {
			for completed < count && !p.abort.Load() && resp.Fits(4) {
				if posted && completed == count-1 {
					ack, data = port.Transfer(p.rdbuff())
				} else {
					ack, data = port.Transfer(r)
				}

				if ack != AckOK {
					break
				}

				resp.WriteUint32LE(data)
				completed++
			}
		}
	} else {
		stopped := false

		for i := 0; i < count; i++ {
			r.Data = req.ReadUint32LE()

			if stopped || p.abort.Load() {
				stopped = true
				continue
			}

			if ack, _ = port.Transfer(r); ack != AckOK {
				stopped = true
				continue
			}

			completed++
		}

		if ack == AckOK {
			ack, _ = port.Transfer(p.rdbuff())
		}
	}

	resp.SetUint16LE(countPos, uint16(completed))
	resp.SetByte(countPos+2, byte(ack))

	p.abort.Store(false)
}

func (p *Processor) dapTransferAbort(req *request, resp *Buffer) {
	p.abort.Store(false)
}
