package serial

import (
	"fmt"
	"github.com/daedaluz/fdev/poll"
	ioctl "github.com/daedaluz/goioctl"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"
)

type Termios struct {
	Iflag IFlag    /* input mode flags */
	Oflag OFlag    /* output mode flags */
	Cflag CFlag    /* control mode flags */
	Lflag LFlag    /* local mode flags */
	Line  byte     /* line discipline */
	Cc    [19]byte /* control characters */
}

type IFlag uint32

// Input flags
const (
	IGNBRK = IFlag(0000001)
	BRKINT = IFlag(0000002)
	IGNPAR = IFlag(0000004)
	PARMRK = IFlag(0000010)
	INPCK  = IFlag(0000020)
	ISTRIP = IFlag(0000040)
	INLCR  = IFlag(0000100)
	IGNCR  = IFlag(0000200)
	ICRNL  = IFlag(0000400)
	IXON   = IFlag(0002000)
)

type OFlag uint32

// Output flags
const (
	OPOST = OFlag(0000001)
)

type CFlag uint32

// Control flags, baud rate mask and the subset of standard rates
// this package maps Params.Baud onto.
const (
	CBAUD  = CFlag(0010017)
	B0     = CFlag(0000000)
	B50    = CFlag(0000001)
	B75    = CFlag(0000002)
	B110   = CFlag(0000003)
	B134   = CFlag(0000004)
	B150   = CFlag(0000005)
	B200   = CFlag(0000006)
	B300   = CFlag(0000007)
	B600   = CFlag(0000010)
	B1200  = CFlag(0000011)
	B1800  = CFlag(0000012)
	B2400  = CFlag(0000013)
	B4800  = CFlag(0000014)
	B9600  = CFlag(0000015)
	B19200 = CFlag(0000016)
	B38400 = CFlag(0000017)

	CSIZE  = CFlag(0000060)
	CS5    = CFlag(0000000)
	CS6    = CFlag(0000020)
	CS7    = CFlag(0000040)
	CS8    = CFlag(0000060)
	CSTOPB = CFlag(0000100)
	CREAD  = CFlag(0000200)
	PARENB = CFlag(0000400)
	PARODD = CFlag(0001000)
	HUPCL  = CFlag(0002000)
	CLOCAL = CFlag(0004000)

	CBAUDEX  = CFlag(0010000)
	BOTHER   = CFlag(0010000)
	B57600   = CFlag(0010001)
	B115200  = CFlag(0010002)
	B230400  = CFlag(0010003)
	B460800  = CFlag(0010004)
	B500000  = CFlag(0010005)
	B576000  = CFlag(0010006)
	B921600  = CFlag(0010007)
	B1000000 = CFlag(0010010)
	B1152000 = CFlag(0010011)
	B1500000 = CFlag(0010012)
	B2000000 = CFlag(0010013)
	B2500000 = CFlag(0010014)
	B3000000 = CFlag(0010015)
	B3500000 = CFlag(0010016)
	B4000000 = CFlag(0010017)
)

// baudRates maps well-known symbolic baud rates onto their CFlag encoding,
// for hosts that run the RS-232 link at a standard speed.
var baudRates = map[uint32]CFlag{
	50: B50, 75: B75, 110: B110, 134: B134, 150: B150, 200: B200,
	300: B300, 600: B600, 1200: B1200, 1800: B1800, 2400: B2400,
	4800: B4800, 9600: B9600, 19200: B19200, 38400: B38400,
	57600: B57600, 115200: B115200, 230400: B230400, 460800: B460800,
	500000: B500000, 576000: B576000, 921600: B921600,
	1000000: B1000000, 1152000: B1152000, 1500000: B1500000,
	2000000: B2000000, 2500000: B2500000, 3000000: B3000000,
	3500000: B3500000, 4000000: B4000000,
}

// BaudFlag resolves a numeric baud rate to its CFlag encoding. Rates outside
// the standard table report ok=false; no arbitrary-speed (BOTHER) encoding
// is produced.
func BaudFlag(rate uint32) (CFlag, bool) {
	b, ok := baudRates[rate]
	return b, ok
}

type LFlag uint32

// Line flags
const (
	ISIG   = LFlag(0000001)
	ICANON = LFlag(0000002)
	ECHO   = LFlag(0000010)
	ECHOE  = LFlag(0000020)
	ECHOK  = LFlag(0000040)
	ECHONL = LFlag(0000100)
	NOFLSH = LFlag(0000200)
	IEXTEN = LFlag(0100000)
)

type Action int

const (
	// TCSANOW
	// the change occurs immediately.
	TCSANOW = Action(iota)

	// TCSADRAIN
	// the change occurs after all output written to fd has been transmitted.
	TCSADRAIN

	// TCSAFLUSH
	// the change occurs after all output written to the object
	// referred by fd has been transmitted, and all input that has been
	// received but not read will be discarded before the change is made
	TCSAFLUSH
)

type Options struct {
	ReadTimeout time.Duration
	OpenMode    int
}

func NewOptions() *Options {
	return &Options{ReadTimeout: -1, OpenMode: syscall.O_RDWR | syscall.O_NOCTTY}
}

func (o *Options) SetReadTimeout(timeout time.Duration) *Options {
	o.ReadTimeout = timeout
	return o
}

type Port struct {
	options *Options
	closed  atomic.Bool
	f       int
}

func Open(name string, opts *Options) (*Port, error) {
	if opts == nil {
		opts = NewOptions()
	}
	fd, err := syscall.Open(name, opts.OpenMode, 0)
	if err != nil {
		return nil, wrapErr("open "+name, err)
	}
	return &Port{
		options: opts,
		f:       fd,
	}, nil
}

func (p *Port) Write(data []byte) (n int, err error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return syscall.Write(p.f, data)
}

func (p *Port) readTimeout(data []byte, timeout time.Duration) (int, error) {
	if err := poll.WaitInput(p.f, timeout); err != nil {
		return 0, err
	}
	return syscall.Read(p.f, data)
}

func (p *Port) Read(data []byte) (n int, err error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if p.options.ReadTimeout > -1 {
		return p.readTimeout(data, p.options.ReadTimeout)
	}
	return syscall.Read(p.f, data)
}

// ReadTimeout reads into data, blocking for at most timeout before
// returning poll.ErrTimeout without having read a byte.
func (p *Port) ReadTimeout(data []byte, timeout time.Duration) (n int, err error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return p.readTimeout(data, timeout)
}

func (p *Port) SetReadTimeout(timeout time.Duration) {
	p.options.ReadTimeout = timeout
}

func (p *Port) Fd() int {
	if p.closed.Load() {
		return -1
	}
	return p.f
}

func (p *Port) Close() error {
	if !p.closed.Swap(true) {
		fd := p.f
		p.f = -1
		return syscall.Close(fd)
	}
	return ErrClosed
}

func (p *Port) GetAttr() (*Termios, error) {
	attrs := &Termios{}
	err := ioctl.Ioctl(uintptr(p.f), tcgets, uintptr(unsafe.Pointer(attrs)))
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (p *Port) SetAttr(when Action, attrs *Termios) error {
	return ioctl.Ioctl(uintptr(p.f), tcsets+uintptr(when), uintptr(unsafe.Pointer(attrs)))
}

// MakeRaw sets the Port to raw mode: no echo, no line editing, 8 data bits,
// no parity (the stop-bit setting is left unchanged), local ownership of the line regardless of carrier/modem state.
func (p *Port) MakeRaw() error {
	attrs, err := p.GetAttr()
	if err != nil {
		return err
	}
	attrs.MakeRaw()
	return p.SetAttr(TCSANOW, attrs)
}

// SetSpeed configures the Port for the given numeric baud rate, applying
// both input and output speed through the CBAUD field.
func (p *Port) SetSpeed(rate uint32) error {
	attrs, err := p.GetAttr()
	if err != nil {
		return err
	}
	flag, ok := BaudFlag(rate)
	if !ok {
		return fmt.Errorf("serial: unsupported baud rate %d", rate)
	}
	attrs.SetSpeed(flag)
	return p.SetAttr(TCSANOW, attrs)
}

func (attrs *Termios) MakeRaw() {
	attrs.Iflag &= ^(IGNBRK | BRKINT | PARMRK | ISTRIP | INLCR | IGNCR | ICRNL | IXON)
	attrs.Oflag &= ^(OPOST)
	attrs.Lflag &= ^(ECHO | ECHONL | ICANON | ISIG | IEXTEN)
	attrs.Cflag &= ^(CSIZE | PARENB)
	attrs.Cflag |= CS8 | CLOCAL | CREAD
}

func (attrs *Termios) SetSpeed(speed CFlag) {
	attrs.Cflag &= ^(CBAUD)
	attrs.Cflag |= speed
}
