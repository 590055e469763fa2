// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/xtaci/kcp-go/v5"

	"github.com/bbnote/netdap/usbip"
)

const descriptorDevice = 1

var infoQueries = []struct {
	id   byte
	name string
}{
	{0x01, "vendor"},
	{0x02, "product"},
	{0x03, "serial"},
	{0x04, "firmware"},
}

func dial(addr string, overKCP bool) (net.Conn, error) {
	if !overKCP {
		return net.DialTimeout("tcp", addr, 5*time.Second)
	}

	sess, err := kcp.DialWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, err
	}

	sess.SetNoDelay(2, 2, 2, 1)
	sess.SetWindowSize(4096, 4096)
	sess.SetMtu(768)

	return sess, nil
}

func main() {
	log.Info("Starting usbip netdap test-software...")

	flagAddr := flag.String("Addr", "127.0.0.1:3240", "Address of the probe")
	flagKcp := flag.Bool("Kcp", false, "Connect over KCP instead of TCP")
	flagBusID := flag.String("BusID", "", "Bus id to import, the first listed device when empty")

	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		cancel()
	}()

	conn, err := dial(*flagAddr, *flagKcp)
	if err != nil {
		log.Fatal("Could not reach the probe: ", err)
	}
	defer conn.Close()

	devices, err := usbip.DeviceList(conn)
	if err != nil {
		log.Fatal(err)
	}

	for _, d := range devices {
		log.Infof("Found %s (%04x:%04x) at %s", d.BusIDString(), d.IDVendor, d.IDProduct, d.PathString())
	}

	busID := *flagBusID
	if busID == "" {
		if len(devices) == 0 {
			log.Fatal("Probe exports no device")
		}
		busID = devices[0].BusIDString()
	}

	client, err := usbip.Import(conn, busID)
	if err != nil {
		log.Fatal(err)
	}

	log.Infof("Imported %s", busID)

	desc, err := client.GetDescriptor(descriptorDevice, 0, 18)
	if err != nil {
		log.Fatal(err)
	}

	log.Infof("Device descriptor: % x", desc)

	command := func(frame ...byte) []byte {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		resp, err := client.Command(ctx, frame, 512)
		if err != nil {
			log.Fatalf("Command % x failed: %v", frame, err)
		}

		return resp
	}

	for _, q := range infoQueries {
		resp := command(0x00, q.id)
		if len(resp) >= 2 && int(resp[1]) <= len(resp)-2 {
			log.Infof("%s: %s", q.name, string(resp[2:2+resp[1]]))
		}
	}

	resp := command(0x00, 0xFF)
	if len(resp) >= 4 {
		log.Infof("Packet size: %d", binary.LittleEndian.Uint16(resp[2:]))
	}

	resp = command(0x02, 0x01)
	log.Infof("Connect: % x", resp)

	// line reset, jtag to swd switch, line reset, idle
	command(0x12, 56, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	command(0x12, 16, 0x9E, 0xE7)
	command(0x12, 56, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	command(0x12, 8, 0x00)

	resp = command(0x05, 0x00, 0x01, 0x02)
	if len(resp) >= 7 && resp[2] == 0x01 {
		log.Infof("Got id code: %08x", binary.LittleEndian.Uint32(resp[3:]))
	} else {
		log.Errorf("Reading id code failed: % x", resp)
	}

	command(0x03)
}
