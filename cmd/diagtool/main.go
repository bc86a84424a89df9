// Command diagtool opens one diagnostic channel and issues a single UDS
// request, printing the response. It mirrors the teacher's cmd/sdo_client:
// flag-parsed interface selection, a single blocking request/response round
// trip, plain stdout output.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
	_ "github.com/alliswell-zy/alliswell-can-uds/pkg/can/socketcan"
	_ "github.com/alliswell-zy/alliswell-can-uds/pkg/can/socketcanraw"
	_ "github.com/alliswell-zy/alliswell-can-uds/pkg/can/virtual"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/chanconfig"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/isotp"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/registry"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/uds"
)

var defaultInterface = "virtual"
var defaultChannel = "vcan0"

func main() {
	log.SetLevel(log.InfoLevel)

	ini := flag.String("c", "", "chanconfig .ini file; when set, -section selects the channel")
	section := flag.String("section", "", "channel section name within -c")
	iface := flag.String("i", defaultInterface, "interface family: virtual, socketcan, socketcanraw")
	device := flag.String("d", defaultChannel, "device/channel name, e.g. can0, vcan0")
	rxID := flag.Uint("rx", 0x7E8, "ISO-TP rx arbitration id")
	txID := flag.Uint("tx", 0x7E0, "ISO-TP tx arbitration id")
	fd := flag.Bool("fd", false, "enable CAN-FD framing")
	sid := flag.String("sid", "22", "UDS service id, hex (e.g. 22 for ReadDataByIdentifier)")
	sub := flag.String("sf", "", "sub-function byte, hex; empty means the service has none")
	payload := flag.String("payload", "", "request payload, hex bytes with optional spaces")
	timeout := flag.Duration("timeout", 2*time.Second, "request timeout")
	flag.Parse()

	chCfg, linkCfg, err := resolveConfig(*ini, *section, *iface, *device, uint32(*rxID), uint32(*txID), *fd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "diagtool:", err)
		os.Exit(1)
	}

	bus, err := can.NewBus(chCfg.Interface)
	if err != nil {
		fmt.Fprintln(os.Stderr, "diagtool:", err)
		os.Exit(1)
	}
	if err := bus.Open(can.Config{Channel: chCfg.Name, Bitrate: chCfg.Bitrate, FD: chCfg.FD, Index: chCfg.Index}); err != nil {
		fmt.Fprintln(os.Stderr, "diagtool: open:", err)
		os.Exit(1)
	}
	defer bus.Close()

	channel, err := isotp.NewChannel(bus, linkCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "diagtool:", err)
		os.Exit(1)
	}
	if err := bus.Subscribe(can.FrameListenerFunc(func(f can.Frame) {
		if f.ID == linkCfg.RxID {
			channel.OnCANFrame(f)
		}
	})); err != nil {
		fmt.Fprintln(os.Stderr, "diagtool: subscribe:", err)
		os.Exit(1)
	}

	session := uds.NewSession(channel)
	session.Start()
	defer session.Stop()

	req, err := buildRequest(*sid, *sub, *payload, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "diagtool:", err)
		os.Exit(1)
	}

	resp, err := session.SendRequest(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "diagtool: request failed:", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func resolveConfig(iniPath, section, iface, device string, rxID, txID uint32, fd bool) (chanconfig.Channel, isotp.LinkConfig, error) {
	if iniPath != "" {
		configs, err := chanconfig.Load(iniPath)
		if err != nil {
			return chanconfig.Channel{}, isotp.LinkConfig{}, err
		}
		cfg, ok := configs[section]
		if !ok {
			return chanconfig.Channel{}, isotp.LinkConfig{}, fmt.Errorf("unknown channel section %q", section)
		}
		return cfg.Channel, cfg.Link, nil
	}
	link := isotp.DefaultLinkConfig()
	link.RxID = rxID
	link.TxID = txID
	link.FD = fd
	return chanconfig.Channel{Interface: iface, Name: device, FD: fd}, link, nil
}

func buildRequest(sidHex, sfHex, payloadHex string, timeout time.Duration) (uds.Request, error) {
	sidVal, err := strconv.ParseUint(strings.TrimPrefix(sidHex, "0x"), 16, 8)
	if err != nil {
		return uds.Request{}, fmt.Errorf("invalid -sid %q: %w", sidHex, err)
	}
	req := uds.Request{
		ServiceID: registry.ServiceID(sidVal),
		Timeout:   timeout,
	}
	if sfHex != "" {
		sfVal, err := strconv.ParseUint(strings.TrimPrefix(sfHex, "0x"), 16, 8)
		if err != nil {
			return uds.Request{}, fmt.Errorf("invalid -sf %q: %w", sfHex, err)
		}
		sf := uint8(sfVal)
		req.SubFunction = &sf
	}
	if payloadHex != "" {
		clean := strings.ReplaceAll(payloadHex, " ", "")
		data, err := hex.DecodeString(clean)
		if err != nil {
			return uds.Request{}, fmt.Errorf("invalid -payload %q: %w", payloadHex, err)
		}
		req.Payload = data
	}
	return req, nil
}

func printResponse(resp uds.Response) {
	info, known := registry.Service(resp.ServiceID)
	name := "unknown"
	if known {
		name = info.Name
	}
	if !resp.IsPositive() {
		fmt.Printf("negative response: service=%s (0x%02X) nrc=0x%02X (%s)\n", name, resp.ServiceID, resp.NRC, registry.Describe(resp.NRC))
		return
	}
	fmt.Printf("positive response: service=%s (0x%02X) payload=%s\n", name, resp.ServiceID, strings.ToUpper(hex.EncodeToString(resp.Payload)))
}
