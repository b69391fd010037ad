package xfer

import (
	stderrors "errors"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/goncalosousa4/feup-rcom-g1305-1-2/hdlc"
)

// session is the slice of hdlc.Session the packetizer depends on, kept
// narrow so the transfer logic is easy to exercise against a fake in
// tests without opening a real or pseudo serial port.
type session interface {
	Write(payload []byte) (int, error)
	Read(buf []byte) (int, error)
}

// Sender drives a Session through the transmitter algorithm: a Start
// packet, a stream of Data packets, then an End packet.
type Sender struct {
	session session
	log     zerolog.Logger
}

// NewSender wraps an open hdlc.Session as a Sender. A nil logger
// silences the transfer's progress logging.
func NewSender(s session, logger *zerolog.Logger) *Sender {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	return &Sender{session: s, log: log}
}

// SendFile reads path whole and streams it across the session in
// ChunkSize pieces. It returns once the End packet has been
// acknowledged; the caller is responsible for closing the session
// afterward.
func (s *Sender) SendFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "xfer: open source file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "xfer: stat source file")
	}
	name := filepath.Base(path)
	size := uint64(info.Size())

	if _, err := s.session.Write(EncodeControl(KindStart, name, size)); err != nil {
		return errors.Wrap(err, "xfer: send start packet")
	}
	s.log.Info().Str("file", name).Uint64("size", size).Msg("transfer started")

	buf := make([]byte, ChunkSize)
	var seq uint8
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			packet, perr := EncodeData(seq, buf[:n])
			if perr != nil {
				return errors.Wrap(perr, "xfer: encode data packet")
			}
			if _, werr := s.session.Write(packet); werr != nil {
				return errors.Wrap(werr, "xfer: send data packet")
			}
			seq++
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return errors.Wrap(rerr, "xfer: read source file")
		}
	}

	if _, err := s.session.Write(EncodeControl(KindEnd, name, size)); err != nil {
		return errors.Wrap(err, "xfer: send end packet")
	}
	s.log.Info().Str("file", name).Uint8("packets", seq).Msg("transfer complete")
	return nil
}

// Receiver drives a Session through the receiver algorithm: read packets
// until End, writing Data payloads to destPath as they arrive.
type Receiver struct {
	session session
	log     zerolog.Logger
}

// NewReceiver wraps an open hdlc.Session as a Receiver. A nil logger
// silences the transfer's progress logging.
func NewReceiver(s session, logger *zerolog.Logger) *Receiver {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	return &Receiver{session: s, log: log}
}

// ReceiveFile writes incoming Data payloads to destPath, truncating and
// creating it first, and returns once the End packet arrives. No
// retransmission or reordering happens at this layer: the link already
// guarantees in-order, exactly-once delivery for accepted frames.
func (r *Receiver) ReceiveFile(destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(err, "xfer: create destination file")
	}
	defer out.Close()

	buf := make([]byte, hdlc.MaxPayload)
	started := false
	var received uint64

	for {
		n, rerr := r.session.Read(buf)
		if rerr != nil {
			if stderrors.Is(rerr, hdlc.ErrPeerDisc) {
				return errors.New("xfer: link closed before end packet")
			}
			return errors.Wrap(rerr, "xfer: read packet")
		}
		packet := buf[:n]
		if len(packet) == 0 {
			continue
		}

		switch packet[0] {
		case dataTag:
			_, data, derr := DecodeData(packet)
			if derr != nil {
				return errors.Wrap(derr, "xfer: decode data packet")
			}
			if _, werr := out.Write(data); werr != nil {
				return errors.Wrap(werr, "xfer: write destination file")
			}
			received += uint64(len(data))

		case KindStart:
			ctrl, cerr := DecodeControl(packet)
			if cerr != nil {
				return errors.Wrap(cerr, "xfer: decode start packet")
			}
			started = true
			r.log.Info().Str("file", ctrl.Filename).Uint64("size", ctrl.Size).Msg("transfer started")

		case KindEnd:
			if !started {
				return errors.New("xfer: end packet before start packet")
			}
			if ctrl, cerr := DecodeControl(packet); cerr == nil {
				r.log.Info().Str("file", ctrl.Filename).Uint64("received", received).Msg("transfer complete")
			}
			return nil

		default:
			r.log.Warn().Uint8("tag", packet[0]).Msg("unexpected packet tag, ignoring")
		}
	}
}
