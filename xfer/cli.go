package xfer

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Args is the parsed form of the six positional arguments both CLI
// programs take: `<serial_port> {tx|rx} <baud> <retries> <timeout_s>
// <filename>`.
type Args struct {
	Device   string
	Mode     string
	Baud     uint32
	Retries  int
	Timeout  time.Duration
	Filename string
}

// ParseArgs parses the positional argument list (os.Args[1:]). It does
// not check Mode against the binary's own role — callers do that, since
// transmitter and receiver share this parser but expect different
// fixed values.
func ParseArgs(args []string) (Args, error) {
	if len(args) != 6 {
		return Args{}, errors.Errorf("xfer: expected 6 arguments <serial_port> {tx|rx} <baud> <retries> <timeout_s> <filename>, got %d", len(args))
	}

	device, mode, baudStr, retriesStr, timeoutStr, filename := args[0], args[1], args[2], args[3], args[4], args[5]

	if mode != "tx" && mode != "rx" {
		return Args{}, errors.Errorf("xfer: mode must be tx or rx, got %q", mode)
	}

	baud, err := strconv.ParseUint(baudStr, 10, 32)
	if err != nil {
		return Args{}, errors.Wrap(err, "xfer: invalid baud rate")
	}

	retries, err := strconv.Atoi(retriesStr)
	if err != nil {
		return Args{}, errors.Wrap(err, "xfer: invalid retry count")
	}
	if retries < 0 {
		return Args{}, errors.Errorf("xfer: retry count must be non-negative, got %d", retries)
	}

	timeoutSecs, err := strconv.Atoi(timeoutStr)
	if err != nil {
		return Args{}, errors.Wrap(err, "xfer: invalid timeout")
	}
	if timeoutSecs <= 0 {
		return Args{}, errors.Errorf("xfer: timeout must be positive, got %d", timeoutSecs)
	}

	return Args{
		Device:   device,
		Mode:     mode,
		Baud:     uint32(baud),
		Retries:  retries,
		Timeout:  time.Duration(timeoutSecs) * time.Second,
		Filename: filename,
	}, nil
}
