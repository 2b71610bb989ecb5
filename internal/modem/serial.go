package modem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SerialPort is the byte-stream transport the line driver needs: a
// non-blocking read/write with queue-depth introspection, per spec.md §1's
// "USB serial transport" external collaborator. A hand-written fake
// implementing this interface stands in for the real device in tests.
type SerialPort interface {
	// Read returns immediately with whatever bytes are currently available
	// (possibly zero), never blocking.
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	// OutQueueLen reports how many bytes are still queued for transmission,
	// used to detect TX buffer underrun conditions independent of the
	// modem's own DLE signal.
	OutQueueLen() (int, error)
	Close() error
}

// Linux ioctl request numbers for termios get/set.
const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)

func setBaud(fd int, t *unix.Termios) error {
	t.Cflag &^= unix.CBAUD
	t.Cflag |= unix.B115200
	t.Ispeed = unix.B115200
	t.Ospeed = unix.B115200
	return unix.IoctlSetTermios(fd, ioctlSetTermios, t)
}

// TTYPort is a SerialPort backed by a real USB modem device, configured via
// termios into 115200 8N1 non-canonical, non-blocking (VMIN=0 VTIME=0) mode
// per spec.md §5/§6.
type TTYPort struct {
	f  *os.File
	fd int
}

// OpenTTY opens path and configures it per spec.md §4.2's startup sequence:
// 115200 8N1, no flow control, non-canonical non-blocking mode.
func OpenTTY(path string) (*TTYPort, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fd := int(f.Fd())

	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("get termios on %s: %w", path, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("set termios on %s: %w", path, err)
	}
	if err := setBaud(fd, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("set baud on %s: %w", path, err)
	}

	return &TTYPort{f: f, fd: fd}, nil
}

func (p *TTYPort) Read(buf []byte) (int, error) {
	return p.f.Read(buf)
}

func (p *TTYPort) Write(buf []byte) (int, error) {
	return p.f.Write(buf)
}

// OutQueueLen reports the kernel TTY output queue depth via TIOCOUTQ.
func (p *TTYPort) OutQueueLen() (int, error) {
	n, err := unix.IoctlGetInt(p.fd, unix.TIOCOUTQ)
	if err != nil {
		return 0, fmt.Errorf("TIOCOUTQ: %w", err)
	}
	return n, nil
}

func (p *TTYPort) Close() error {
	return p.f.Close()
}
