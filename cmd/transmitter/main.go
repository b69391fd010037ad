// Command transmitter sends one file across a serial link using the
// hdlc/xfer stack.
//
// Usage: transmitter <serial_port> tx <baud> <retries> <timeout_s> <filename>
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/goncalosousa4/feup-rcom-g1305-1-2/hdlc"
	"github.com/goncalosousa4/feup-rcom-g1305-1-2/xfer"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	args, err := xfer.ParseArgs(argv)
	if err != nil {
		log.Error().Err(err).Msg("invalid arguments")
		fmt.Fprintln(os.Stderr, "usage: transmitter <serial_port> tx <baud> <retries> <timeout_s> <filename>")
		return 1
	}
	if args.Mode != "tx" {
		log.Error().Str("mode", args.Mode).Msg("transmitter requires mode tx")
		return 1
	}

	session, err := hdlc.Open(hdlc.Params{
		Device:  args.Device,
		Baud:    args.Baud,
		Role:    hdlc.RoleTransmitter,
		Retries: args.Retries,
		Timeout: args.Timeout,
		Logger:  &log,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to establish link")
		return exitCodeFor(err)
	}

	sender := xfer.NewSender(session, &log)
	sendErr := sender.SendFile(args.Filename)
	if closeErr := session.Close(true); sendErr == nil {
		sendErr = closeErr
	}
	if sendErr != nil {
		log.Error().Err(sendErr).Msg("transfer failed")
		return exitCodeFor(sendErr)
	}
	return 0
}

func exitCodeFor(err error) int {
	var herr *hdlc.Error
	if errors.As(err, &herr) {
		return 2 + int(herr.Kind)
	}
	return 1
}
