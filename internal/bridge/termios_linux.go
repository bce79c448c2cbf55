//go:build linux

package bridge

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/nmdm/nmdm/internal/core"
)

// cibaudShift positions the input speed bits inside c_cflag.
const cibaudShift = 16

var speeds = map[uint32]int64{
	unix.B0:       0,
	unix.B50:      50,
	unix.B75:      75,
	unix.B110:     110,
	unix.B134:     134,
	unix.B150:     150,
	unix.B200:     200,
	unix.B300:     300,
	unix.B600:     600,
	unix.B1200:    1200,
	unix.B1800:    1800,
	unix.B2400:    2400,
	unix.B4800:    4800,
	unix.B9600:    9600,
	unix.B19200:   19200,
	unix.B38400:   38400,
	unix.B57600:   57600,
	unix.B115200:  115200,
	unix.B230400:  230400,
	unix.B460800:  460800,
	unix.B500000:  500000,
	unix.B576000:  576000,
	unix.B921600:  921600,
	unix.B1000000: 1000000,
	unix.B1152000: 1152000,
	unix.B1500000: 1500000,
	unix.B2000000: 2000000,
	unix.B2500000: 2500000,
	unix.B3000000: 3000000,
	unix.B3500000: 3500000,
	unix.B4000000: 4000000,
}

var dataBits = map[uint32]int{
	unix.CS5: 5,
	unix.CS6: 6,
	unix.CS7: 7,
	unix.CS8: 8,
}

func makeRaw(f *os.File) error {
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

func readTermios(f *os.File) (termState, error) {
	t, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		return termState{}, err
	}

	st := termState{
		Params: core.LineParams{
			DataBits: dataBits[t.Cflag&unix.CSIZE],
			Parity:   core.ParityNone,
			StopBits: 1,
		},
		OutSpeed: speeds[t.Cflag&unix.CBAUD],
	}
	if t.Cflag&unix.PARENB != 0 {
		st.Params.Parity = core.ParityEven
		if t.Cflag&unix.PARODD != 0 {
			st.Params.Parity = core.ParityOdd
		}
	}
	if t.Cflag&unix.CSTOPB != 0 {
		st.Params.StopBits = 2
	}

	st.InSpeed = st.OutSpeed
	if in := (t.Cflag & unix.CIBAUD) >> cibaudShift; in != 0 {
		st.InSpeed = speeds[in]
	}
	return st, nil
}
