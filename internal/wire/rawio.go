package wire

import "golang.org/x/sys/unix"

// readFull reads exactly len(buf) bytes from fd. It returns the number
// of bytes actually read (less than len(buf) only on EOF) and any error
// other than EOF.
func readFull(fd int, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := unix.Read(fd, buf[n:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, nil
		}
		n += m
	}
	return n, nil
}

// WriteAll writes the entire buffer to fd, retrying on short writes and
// EINTR.
func WriteAll(fd int, buf []byte) error {
	n := 0
	for n < len(buf) {
		m, err := unix.Write(fd, buf[n:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}
