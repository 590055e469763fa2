// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/bbnote/netdap"
	"github.com/bbnote/netdap/bridge"
	"github.com/bbnote/netdap/internal/swdsim"
	"github.com/bbnote/netdap/pins/rpi"
	"github.com/bbnote/netdap/telemetry"
	"github.com/bbnote/netdap/transport"
)

const simulatedIDCode = 0x2ba01477

var logger *logrus.Logger

func initLogger() {
	formatter := &prefixed.TextFormatter{
		DisableColors:   false,
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	}

	logger = logrus.New()

	logger.SetFormatter(formatter)
	logger.SetOutput(os.Stdout)
}

// arguments prepends the options found in NETDAP_OPTS to the command line.
func arguments() ([]string, error) {
	env := os.Getenv("NETDAP_OPTS")
	if env == "" {
		return os.Args[1:], nil
	}

	opts, err := shlex.Split(env)
	if err != nil {
		return nil, fmt.Errorf("NETDAP_OPTS: %w", err)
	}

	return append(opts, os.Args[1:]...), nil
}

func setUpSignalHandler(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)

	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		logger.Infof("received %s, shutting down...", sig)
		cancel()
	}()
}

func swoOpener(port string) netdap.TraceOpener {
	return func(baudrate uint32) (io.ReadCloser, error) {
		return serial.Open(serial.OpenOptions{
			PortName:        port,
			BaudRate:        uint(baudrate),
			DataBits:        8,
			StopBits:        1,
			ParityMode:      serial.PARITY_NONE,
			MinimumReadSize: 1,
		})
	}
}

// group runs the long lived parts of the daemon. The first one to fail takes
// the others down with it.
type group struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func (g *group) run(name string, fn func() error) {
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()

		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("%s stopped: %v", name, err)
			g.cancel()
		}
	}()
}

func main() {
	initLogger()
	netdap.SetLogger(logger)

	logger.Info("Welcome to netdap, the network attached CMSIS-DAP probe...")

	flags := flag.NewFlagSet("dapserver", flag.ExitOnError)

	flagLogLevel := flags.Int("LogLevel", int(logrus.InfoLevel), "Logging verbosity [0 - 6]")
	flagSpeed := flags.Uint("Speed", netdap.DefaultClockHz/1000, "Default SWD/JTAG clock in kHz")
	flagPort := flags.String("Port", "SWD", "Debug port used when the host asks for the default [SWD, JTAG]")
	flagPacketSize := flags.Int("PacketSize", netdap.DefaultPacketSize, "Command frame size in bytes")
	flagListen := flags.String("Listen", transport.DefaultAddr, "TCP address for usbip, elaphureLink and websocket clients")
	flagKcp := flags.String("Kcp", "", "UDP address for usbip over KCP, disabled when empty")
	flagWebsocket := flags.String("Websocket", "", "Separate HTTP address for websocket clients")
	flagAcmeHost := flags.String("AcmeHost", "", "Serve websocket clients over TLS with a certificate for this host")
	flagGpio := flags.String("Gpio", "", "GPIO mapping, e.g. swclk=25,swdio=24,tdi=23,tdo=22")
	flagBurst := flags.Bool("Burst", false, "Clock SWD packets through the shift register of the pin driver")
	flagSim := flags.Bool("Sim", false, "Use a simulated target instead of GPIO")
	flagSwo := flags.String("Swo", "", "Serial port capturing SWO output")
	flagUart := flags.String("Uart", "", "Serial port of the target console, bridge disabled when empty")
	flagUartBaud := flags.Uint("UartBaud", bridge.DefaultBaudrate, "Default baud rate of the console bridge")
	flagUartListen := flags.String("UartListen", bridge.DefaultAddr, "TCP address of the console bridge")
	flagMqtt := flags.String("Mqtt", "", "MQTT broker for status telemetry, e.g. tcp://broker:1883")
	flagMqttPrefix := flags.String("MqttPrefix", telemetry.DefaultPrefix, "Topic prefix of the status message")

	args, err := arguments()
	if err != nil {
		logger.Fatal(err)
	}

	flags.Parse(args)

	logger.SetLevel(logrus.Level(*flagLogLevel))

	var pins netdap.PinDriver

	if *flagSim {
		logger.Warnf("using simulated target with id code %08x", simulatedIDCode)
		pins = swdsim.New(simulatedIDCode)
	} else {
		pinout, err := rpi.ParsePinout(*flagGpio)
		if err != nil {
			logger.Fatal(err)
		}

		driver, err := rpi.Open(pinout)
		if err != nil {
			logger.Fatal("could not open gpio: ", err)
		}
		defer driver.Close()

		pins = driver
	}

	config := netdap.DefaultConfig()
	config.PacketSize = *flagPacketSize
	config.DefaultClock = uint32(*flagSpeed * 1000)

	switch strings.ToUpper(*flagPort) {
	case "SWD":
		config.DefaultPort = netdap.PortSWD
	case "JTAG":
		config.DefaultPort = netdap.PortJTAG
	default:
		logger.Fatalf("unknown debug port '%s'", *flagPort)
	}

	var options []netdap.Option

	if *flagBurst {
		if shifter, ok := pins.(netdap.Shifter); ok {
			options = append(options, netdap.WithShifter(shifter))
		} else {
			logger.Warn("pin driver has no shift register, falling back to bit-bang")
		}
	}

	var trace *netdap.Trace
	if *flagSwo != "" {
		trace = netdap.NewTrace(swoOpener(*flagSwo), netdap.DefaultTraceSize)
		options = append(options, netdap.WithTrace(trace))
	}

	processor := netdap.NewProcessor(pins, config, options...)
	pipeline := netdap.NewPipeline(processor, config.PacketCount, config.PacketSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setUpSignalHandler(cancel)

	serverOptions := []transport.Option{transport.WithTrace(trace)}

	tasks := group{cancel: cancel}

	if *flagMqtt != "" {
		publisher := telemetry.NewPublisher(telemetry.Config{
			Broker: *flagMqtt,
			Prefix: *flagMqttPrefix,
		}, pipeline, nil)

		if err := publisher.Connect(5 * time.Second); err != nil {
			logger.Warnf("mqtt: %v, retrying in background", err)
		}

		serverOptions = append(serverOptions, transport.WithObserver(publisher))

		tasks.run("telemetry", func() error { return publisher.Run(ctx) })
	}

	server := transport.NewServer(pipeline, serverOptions...)

	tasks.run("pipeline", func() error { return pipeline.Run(ctx) })
	tasks.run("tcp server", func() error { return server.ListenAndServe(ctx, *flagListen) })

	if *flagKcp != "" {
		tasks.run("kcp server", func() error { return server.ServeKCP(ctx, *flagKcp) })
	}

	if *flagAcmeHost != "" {
		tasks.run("websocket tls server", func() error { return server.ServeWebsocketTLS(ctx, *flagAcmeHost) })
	} else if *flagWebsocket != "" {
		tasks.run("websocket server", func() error { return server.ServeWebsocket(ctx, *flagWebsocket) })
	}

	if *flagUart != "" {
		uart := bridge.NewUART(bridge.SerialOpener(*flagUart), *flagUartBaud, nil)
		tasks.run("uart bridge", func() error { return uart.ListenAndServe(ctx, *flagUartListen) })
	}

	<-ctx.Done()

	tasks.wg.Wait()

	logger.Info("bye")
}
