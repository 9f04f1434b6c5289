package serial

import (
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// ttyPort is a raw-mode Linux serial device read with poll(2) so that every
// Read returns within the configured timeout.
type ttyPort struct {
	fd        int
	timeout   time.Duration
	closeOnce sync.Once
}

// openTTY opens cfg.Device configured for raw, low-latency, non-buffered
// operation.
func openTTY(cfg Config) (Port, error) {
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0o666)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "get termios")
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baudToUnix(cfg.BaudRate)

	// Reads are gated by poll, so the driver never has to wait for bytes.
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "set termios")
	}

	return &ttyPort{fd: fd, timeout: cfg.ReadTimeout}, nil
}

// Read waits up to the read timeout for input and returns what is buffered.
// A hangup without data is reported as io.EOF.
func (p *ttyPort) Read(b []byte) (int, error) {
	pfd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	ms := int(p.timeout / time.Millisecond)
	for {
		n, err := unix.Poll(pfd, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "poll")
		}
		if n == 0 {
			return 0, nil
		}
		break
	}
	if pfd[0].Revents&unix.POLLNVAL != 0 {
		return 0, errors.New("poll: invalid descriptor")
	}

	n, err := unix.Read(p.fd, b)
	if err == unix.EAGAIN {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Close closes the descriptor. Safe to call multiple times.
func (p *ttyPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = unix.Close(p.fd)
	})
	return err
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	case 460800:
		return unix.B460800
	case 921600:
		return unix.B921600
	default:
		return unix.B115200 // fallback
	}
}
