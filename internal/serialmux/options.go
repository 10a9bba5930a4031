package serialmux

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the UART speed of common nRF52/ESP32 scanner firmware.
const DefaultBaudRate = 115200

// PortOptions describes the serial connection to the scanner.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch parity := strings.TrimSpace(strings.ToUpper(opts.Parity)); parity {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// ScanOptions configures the scanner's ranging output. The scanner reports
// one JSON ranging line per interval listing every beacon it heard, with
// rssi 0 for beacons it tracks but missed.
type ScanOptions struct {
	Interval time.Duration // ranging cycle
	Regions  []string      // region UUIDs to range; empty ranges everything
	Heading  bool          // forward the scanner's compass, if fitted
}

// DefaultScanOptions ranges all regions once per second with compass output.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{Interval: time.Second, Heading: true}
}

// Commands returns the scanner command sequence for these options.
func (o ScanOptions) Commands() []string {
	interval := o.Interval
	if interval <= 0 {
		interval = time.Second
	}
	cmds := []string{
		"OJ",      // JSON line output
		"RX",      // clear region filters
		fmt.Sprintf("RI=%d", interval.Milliseconds()),
	}
	for _, r := range o.Regions {
		cmds = append(cmds, "R+"+strings.ToLower(r))
	}
	if o.Heading {
		cmds = append(cmds, "OH")
	} else {
		cmds = append(cmds, "oH")
	}
	return append(cmds, "S1") // start ranging
}
