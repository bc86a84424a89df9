// Package chanconfig loads CAN channel and ISO-TP timing parameters from an
// .ini document, the way the teacher's pkg/od parser loads EDS (itself an
// .ini dialect) documents with gopkg.in/ini.v1. This is channel/protocol
// parameter configuration, distinct from the GUI/application configuration
// the specification places out of scope.
package chanconfig

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/isotp"
)

// Channel describes how to open one CAN channel.
type Channel struct {
	Interface string // "virtual", "socketcan", "socketcanraw"
	Name      string // interface/device name, e.g. "can0"
	Bitrate   int
	FD        bool
	Index     int
}

// Config is one named diagnostic channel: a CAN channel plus the ISO-TP link
// configuration layered on it.
type Config struct {
	Name    string
	Channel Channel
	Link    isotp.LinkConfig
}

// Load parses an .ini document into a set of named channel configurations.
// Each non-DEFAULT section is one channel; section keys map onto Channel and
// LinkConfig fields. rx_id and tx_id are required in every section; other
// unset ISO-TP keys fall back to isotp.DefaultLinkConfig.
func Load(source any) (map[string]*Config, error) {
	file, err := ini.Load(source)
	if err != nil {
		return nil, fmt.Errorf("chanconfig: %w", err)
	}

	out := make(map[string]*Config)
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		cfg := &Config{Name: section.Name(), Link: isotp.DefaultLinkConfig()}
		cfg.Channel.Interface = section.Key("interface").MustString("virtual")
		cfg.Channel.Name = section.Key("device").String()
		cfg.Channel.Bitrate = section.Key("bitrate").MustInt(500_000)
		cfg.Channel.FD = section.Key("fd").MustBool(false)
		cfg.Channel.Index = section.Key("index").MustInt(0)
		cfg.Link.FD = cfg.Channel.FD

		rxID, err := section.Key("rx_id").Uint64()
		if err != nil {
			return nil, fmt.Errorf("chanconfig: section %q: rx_id: %w", section.Name(), err)
		}
		txID, err := section.Key("tx_id").Uint64()
		if err != nil {
			return nil, fmt.Errorf("chanconfig: section %q: tx_id: %w", section.Name(), err)
		}
		cfg.Link.RxID = uint32(rxID)
		cfg.Link.TxID = uint32(txID)

		if key, err := section.GetKey("padding"); err == nil {
			pad, perr := key.Uint()
			if perr != nil {
				return nil, fmt.Errorf("chanconfig: section %q: padding: %w", section.Name(), perr)
			}
			cfg.Link.PaddingByte = byte(pad)
		}
		cfg.Link.PaddingEnabled = section.Key("padding_enabled").MustBool(true)

		if ms := section.Key("p2_ms").MustInt(0); ms > 0 {
			cfg.Link.P2 = time.Duration(ms) * time.Millisecond
		}
		if ms := section.Key("p2_star_ms").MustInt(0); ms > 0 {
			cfg.Link.P2Star = time.Duration(ms) * time.Millisecond
		}
		if ms := section.Key("n_bs_ms").MustInt(0); ms > 0 {
			cfg.Link.NBs = time.Duration(ms) * time.Millisecond
		}
		if ms := section.Key("n_cr_ms").MustInt(0); ms > 0 {
			cfg.Link.NCr = time.Duration(ms) * time.Millisecond
		}
		if ms := section.Key("n_as_ms").MustInt(0); ms > 0 {
			cfg.Link.NAs = time.Duration(ms) * time.Millisecond
		}
		cfg.Link.BlockSize = uint8(section.Key("block_size").MustUint(uint(cfg.Link.BlockSize)))
		cfg.Link.STmin = uint8(section.Key("stmin").MustUint(uint(cfg.Link.STmin)))

		out[section.Name()] = cfg
	}
	return out, nil
}
