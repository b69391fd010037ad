package hdlc

// fsmState names the receiver automaton's states.
type fsmState int

const (
	stateStart fsmState = iota
	stateFlagRcv
	stateARcv
	stateCRcv
	stateBcc1Ok
	stateData
	stateStop
)

// frameParser is the byte-driven receiver automaton. One instance parses
// exactly one frame; call Reset to parse the next. It is used both during
// the SET/UA and DISC handshakes (expecting one fixed (addr, ctrl) pair)
// and during Read (expecting any information or Disc control code).
type frameParser struct {
	state      fsmState
	expectAddr byte
	accept     func(ctrl byte) bool
	isInfo     func(ctrl byte) bool

	gotCtrl byte
	buf     []byte // raw (still stuffed) bytes of an information frame
}

// newMatchParser builds a parser that accepts any supervision frame
// addressed to addr whose control byte satisfies match.
func newMatchParser(addr byte, match func(ctrl byte) bool) *frameParser {
	return &frameParser{
		expectAddr: addr,
		accept:     match,
		isInfo:     func(byte) bool { return false },
	}
}

// newFrameParser builds a parser that accepts exactly one supervision
// frame (addr, ctrl).
func newFrameParser(addr, ctrl byte) *frameParser {
	return newMatchParser(addr, func(c byte) bool { return c == ctrl })
}

// newAckParser builds a parser that accepts an RR or REJ response (at
// either sequence bit) addressed to addr, for use while a write is
// awaiting acknowledgement.
func newAckParser(addr byte) *frameParser {
	return newMatchParser(addr, func(c byte) bool {
		return c == CtrlRR(0) || c == CtrlRR(1) || c == CtrlREJ(0) || c == CtrlREJ(1)
	})
}

// newInfoParser builds a parser that accepts an information frame at
// either sequence bit, or a Disc frame (so Read can recognise a
// peer-driven teardown), both addressed to addr.
func newInfoParser(addr byte) *frameParser {
	return &frameParser{
		expectAddr: addr,
		accept: func(c byte) bool {
			return c == CtrlInfo(0) || c == CtrlInfo(1) || c == CtrlDISC
		},
		isInfo: func(c byte) bool {
			return c == CtrlInfo(0) || c == CtrlInfo(1)
		},
	}
}

func (p *frameParser) Reset() {
	p.state = stateStart
	p.gotCtrl = 0
	p.buf = p.buf[:0]
}

// Feed consumes one inbound byte and reports whether a complete frame has
// just been recognised (state == stateStop). The FlagRcv re-entry on a
// stray FLAG re-synchronises the parser to the start of any legal frame
// without dropping the frame delimiter.
func (p *frameParser) Feed(b byte) bool {
	switch p.state {
	case stateStart:
		if b == FlagByte {
			p.state = stateFlagRcv
		}

	case stateFlagRcv:
		switch {
		case b == p.expectAddr:
			p.state = stateARcv
		case b == FlagByte:
			p.state = stateFlagRcv
		default:
			p.state = stateStart
		}

	case stateARcv:
		switch {
		case p.accept(b):
			p.gotCtrl = b
			p.state = stateCRcv
		case b == FlagByte:
			p.state = stateFlagRcv
		default:
			p.state = stateStart
		}

	case stateCRcv:
		switch {
		case b == p.expectAddr^p.gotCtrl:
			p.state = stateBcc1Ok
		case b == FlagByte:
			p.state = stateFlagRcv
		default:
			p.state = stateStart
		}

	case stateBcc1Ok:
		if p.isInfo(p.gotCtrl) {
			if b == FlagByte {
				p.state = stateStop // empty payload
			} else {
				p.buf = append(p.buf, b)
				p.state = stateData
			}
		} else {
			if b == FlagByte {
				p.state = stateStop
			} else {
				p.state = stateStart
			}
		}

	case stateData:
		if b == FlagByte {
			p.state = stateStop
		} else {
			p.buf = append(p.buf, b)
		}

	case stateStop:
		// Already terminal; a fresh Reset is required before reuse.
	}

	return p.state == stateStop
}
