// Command monitorctl starts a monitor pipeline against one CAN channel and
// tails passing frames to stdout, optionally mirroring them to a file sink
// or, with -sqlite, to a SQLite-backed sink. Modeled on the teacher's
// cmd/canopen: flag-selected interface, a plain foreground loop driven by
// an OS signal for shutdown.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
	_ "github.com/alliswell-zy/alliswell-can-uds/pkg/can/socketcan"
	_ "github.com/alliswell-zy/alliswell-can-uds/pkg/can/socketcanraw"
	_ "github.com/alliswell-zy/alliswell-can-uds/pkg/can/virtual"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/monitor"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/monitor/sqlitesink"
)

var defaultInterface = "virtual"
var defaultChannel = "vcan0"

func main() {
	log.SetLevel(log.InfoLevel)

	iface := flag.String("i", defaultInterface, "interface family: virtual, socketcan, socketcanraw")
	device := flag.String("d", defaultChannel, "device/channel name, e.g. can0, vcan0")
	ringCap := flag.Int("ring", 10000, "monitor ring capacity")
	queueCap := flag.Int("queue", 10000, "monitor ingress queue capacity")
	outPath := flag.String("tail", "", "optional file path to mirror passing frames to")
	sqlitePath := flag.String("sqlite", "", "optional SQLite database path to mirror passing frames to, instead of -tail")
	flag.Parse()

	bus, err := can.NewBus(*iface)
	if err != nil {
		fmt.Fprintln(os.Stderr, "monitorctl:", err)
		os.Exit(1)
	}
	if err := bus.Open(can.Config{Channel: *device}); err != nil {
		fmt.Fprintln(os.Stderr, "monitorctl: open:", err)
		os.Exit(1)
	}
	defer bus.Close()

	mon := monitor.New(monitor.Config{RingCapacity: *ringCap, QueueCapacity: *queueCap})
	mon.RegisterObserver(func(f monitor.Frame) {
		fmt.Printf("%s %-3s %s x%03X [%d] %s\n",
			f.Ingested.Format("15:04:05.000"), f.Direction, f.Source, f.CAN.ID, f.CAN.DLC, f.CAN)
	})

	if err := bus.Subscribe(can.FrameListenerFunc(func(frame can.Frame) {
		mon.Ingest(frame, monitor.RX, *device)
	})); err != nil {
		fmt.Fprintln(os.Stderr, "monitorctl: subscribe:", err)
		os.Exit(1)
	}

	mon.Start()
	defer mon.Stop()

	switch {
	case *sqlitePath != "":
		sink, err := sqlitesink.Open(*sqlitePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "monitorctl: sqlite:", err)
			os.Exit(1)
		}
		if err := mon.StartTailingWith(sink); err != nil {
			fmt.Fprintln(os.Stderr, "monitorctl: tail:", err)
			os.Exit(1)
		}
		defer mon.StopTailing()
	case *outPath != "":
		if err := mon.StartTailing(*outPath); err != nil {
			fmt.Fprintln(os.Stderr, "monitorctl: tail:", err)
			os.Exit(1)
		}
		defer mon.StopTailing()
	}

	log.WithField("channel", *device).Info("monitor running, ctrl-c to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
