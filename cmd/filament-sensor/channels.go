package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/filament-sensor/internal/monitor"
)

// channelSpec is one --channel flag: which extruder, which sensor, which pin.
type channelSpec struct {
	Index  int
	Type   monitor.Type
	Pin    int
	Params monitor.Params
}

// channelFlags collects repeated --channel flags.
type channelFlags []channelSpec

func (c *channelFlags) String() string {
	parts := make([]string, 0, len(*c))
	for _, s := range *c {
		parts = append(parts, fmt.Sprintf("%d:%d:%d", s.Index, s.Type, s.Pin))
	}
	return strings.Join(parts, " ")
}

func (c *channelFlags) Set(v string) error {
	spec, err := parseChannelSpec(v)
	if err != nil {
		return err
	}
	for _, s := range *c {
		if s.Index == spec.Index {
			return fmt.Errorf("channel %d given twice", spec.Index)
		}
		if s.Pin == spec.Pin {
			return fmt.Errorf("pin %d used by channel %d", spec.Pin, s.Index)
		}
	}
	*c = append(*c, spec)
	return nil
}

var typeNames = map[string]monitor.Type{
	"magnet":        monitor.TypeRotatingMagnet,
	"magnet-switch": monitor.TypeRotatingMagnetSwitch,
	"pulsed":        monitor.TypePulsed,
}

// parseChannelSpec parses N:type:pin[:key=value,...]. type is a monitor type
// number (3, 4, 7) or one of magnet, magnet-switch, pulsed. Keys:
//
//	enable=0|1|2          disabled, while printing, always
//	mm_per_rev=25.2       rotating magnet sensors
//	mm_per_pulse=1        pulsed sensors
//	min=60 max=160        allowed movement, percent of commanded
//	check_length=3        mm of extrusion per comparison
//	check_non_printing=1  also compare non-printing moves
//	samples=10            calibration samples before comparing
func parseChannelSpec(s string) (channelSpec, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 3 {
		return channelSpec{}, fmt.Errorf("channel %q: want N:type:pin[:key=value,...]", s)
	}

	var spec channelSpec
	var err error
	if spec.Index, err = strconv.Atoi(parts[0]); err != nil || spec.Index < 0 || spec.Index >= monitor.MaxChannels {
		return channelSpec{}, fmt.Errorf("channel %q: index must be 0..%d", s, monitor.MaxChannels-1)
	}
	if t, ok := typeNames[parts[1]]; ok {
		spec.Type = t
	} else if n, err := strconv.Atoi(parts[1]); err == nil && monitor.Type(n).Valid() {
		spec.Type = monitor.Type(n)
	} else {
		return channelSpec{}, fmt.Errorf("channel %q: %w %q", s, monitor.ErrUnknownType, parts[1])
	}
	if spec.Pin, err = strconv.Atoi(parts[2]); err != nil || spec.Pin < 0 {
		return channelSpec{}, fmt.Errorf("channel %q: bad pin %q", s, parts[2])
	}

	spec.Params = monitor.DefaultParams(spec.Type)
	if len(parts) == 4 && parts[3] != "" {
		for _, kv := range strings.Split(parts[3], ",") {
			if err := applyParam(&spec.Params, kv); err != nil {
				return channelSpec{}, fmt.Errorf("channel %q: %w", s, err)
			}
		}
	}
	if err := spec.Params.Validate(spec.Type); err != nil {
		return channelSpec{}, fmt.Errorf("channel %q: %w", s, err)
	}
	return spec, nil
}

func applyParam(p *monitor.Params, kv string) error {
	key, val, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("parameter %q: want key=value", kv)
	}

	if key == "enable" || key == "samples" || key == "check_non_printing" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", key, err)
		}
		switch key {
		case "enable":
			if n < 0 || n > int(monitor.EnableAlways) {
				return fmt.Errorf("parameter enable: %d outside 0..2", n)
			}
			p.Enable = monitor.EnableMode(n)
		case "samples":
			p.CalibrationSamples = n
		case "check_non_printing":
			p.CheckNonPrintingMoves = n != 0
		}
		return nil
	}

	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("parameter %s: %w", key, err)
	}
	switch key {
	case "mm_per_rev":
		p.MmPerRev = f
	case "mm_per_pulse":
		p.MmPerPulse = f
	case "min":
		p.MinMovementAllowed = f / 100
	case "max":
		p.MaxMovementAllowed = f / 100
	case "check_length":
		p.CheckLength = f
	default:
		return fmt.Errorf("unknown parameter %q", key)
	}
	return nil
}
