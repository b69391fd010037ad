package serial

import (
	"syscall"
	"unsafe"
)

// Winsize mirrors struct winsize from <asm/termios.h>; only used by the
// pseudoterminal helpers below.
type Winsize struct {
	Row, Col, Xpixel, Ypixel uint16
}

func (p *Port) GetWinSize() (*Winsize, error) {
	ws := &Winsize{}
	if err := ioctlPtr(p.f, tiocgwinsz, unsafe.Pointer(ws)); err != nil {
		return nil, err
	}
	return ws, nil
}

func (p *Port) SetWinSize(ws *Winsize) error {
	return ioctlPtr(p.f, tiocswinsz, unsafe.Pointer(ws))
}

// SetLockPT sets or clears the BSD pty lock, mirroring glibc's unlockpt()
// when lock is false.
func (p *Port) SetLockPT(lock bool) error {
	var v int32
	if lock {
		v = 1
	}
	return ioctlPtr(p.f, tiocsptlck, unsafe.Pointer(&v))
}

// GetPTPeer opens the slave side of a /dev/ptmx master, equivalent to
// glibc's ptsname()+open() pair collapsed into a single ioctl.
func (p *Port) GetPTPeer(openFlags int) (*Port, error) {
	r1, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(p.f), tiocgptpeer, uintptr(openFlags))
	if errno != 0 {
		return nil, errno
	}
	return &Port{options: NewOptions(), f: int(r1)}, nil
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// OpenPTY finds an available pseudoterminal and returns a master and slave
// port. If termp is non-nil, the slave port will be configured with the
// given termios. If winp is non-nil, the slave port will be configured with
// the given window size.
//
// Used by the test suite to drive a Session across a virtual serial link
// without real hardware.
func OpenPTY(termp *Termios, winp *Winsize) (*Port, *Port, error) {
	master, err := Open("/dev/ptmx", nil)
	if err != nil {
		return nil, nil, err
	}
	if err := master.SetLockPT(false); err != nil {
		master.Close()
		return nil, nil, err
	}
	slave, err := master.GetPTPeer(syscall.O_RDWR | syscall.O_NOCTTY)
	if err != nil {
		master.Close()
		return nil, nil, err
	}
	if termp != nil {
		if err := slave.SetAttr(TCSANOW, termp); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, err
		}
	}
	if winp != nil {
		if err := slave.SetWinSize(winp); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, err
		}
	}

	return master, slave, nil
}
