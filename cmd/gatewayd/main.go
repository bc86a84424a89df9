// Command gatewayd runs the HTTP+WebSocket gateway over one monitor and one
// command executor bound to a single CAN/ISO-TP/UDS channel stack. Mirrors
// the teacher's cmd/canopen_http: flag-selected interface, gateway.ListenAndServe
// blocking the process.
package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
	_ "github.com/alliswell-zy/alliswell-can-uds/pkg/can/socketcan"
	_ "github.com/alliswell-zy/alliswell-can-uds/pkg/can/socketcanraw"
	_ "github.com/alliswell-zy/alliswell-can-uds/pkg/can/virtual"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/executor"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/gateway"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/isotp"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/monitor"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/uds"
)

var defaultInterface = "virtual"
var defaultChannel = "vcan0"
var defaultHTTPPort = 8090

func main() {
	log.SetLevel(log.InfoLevel)

	iface := flag.String("i", defaultInterface, "interface family: virtual, socketcan, socketcanraw")
	device := flag.String("d", defaultChannel, "device/channel name, e.g. can0, vcan0")
	rxID := flag.Uint("rx", 0x7E8, "ISO-TP rx arbitration id")
	txID := flag.Uint("tx", 0x7E0, "ISO-TP tx arbitration id")
	port := flag.Int("port", defaultHTTPPort, "HTTP port")
	flag.Parse()

	bus, err := can.NewBus(*iface)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gatewayd:", err)
		os.Exit(1)
	}
	if err := bus.Open(can.Config{Channel: *device}); err != nil {
		fmt.Fprintln(os.Stderr, "gatewayd: open:", err)
		os.Exit(1)
	}
	defer bus.Close()

	linkCfg := isotp.DefaultLinkConfig()
	linkCfg.RxID = uint32(*rxID)
	linkCfg.TxID = uint32(*txID)
	channel, err := isotp.NewChannel(bus, linkCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gatewayd:", err)
		os.Exit(1)
	}

	mon := monitor.New(monitor.DefaultConfig())
	if err := bus.Subscribe(can.FrameListenerFunc(func(frame can.Frame) {
		mon.Ingest(frame, monitor.RX, *device)
		if frame.ID == linkCfg.RxID {
			channel.OnCANFrame(frame)
		}
	})); err != nil {
		fmt.Fprintln(os.Stderr, "gatewayd: subscribe:", err)
		os.Exit(1)
	}
	mon.Start()
	defer mon.Stop()

	session := uds.NewSession(channel)
	session.Start()
	defer session.Stop()

	ex := executor.New(bus, session, executor.Hooks{})

	server := gateway.NewServer(mon, ex)
	log.WithField("port", *port).Info("starting gateway")
	if err := server.ListenAndServe(fmt.Sprintf(":%d", *port)); err != nil {
		fmt.Fprintln(os.Stderr, "gatewayd:", err)
		os.Exit(1)
	}
}
