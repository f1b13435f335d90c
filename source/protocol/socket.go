package protocol

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// socket is the collaborator named in : everything Host needs
// from the transport below it. A plain *net.UDPConn satisfies it via the
// methods added in socketConn below; this package's tests use it over real
// loopback sockets.
type socket interface {
	ReadFrom(buf []byte) (n int, addr *net.UDPAddr, err error)
	WriteTo(buf []byte, addr *net.UDPAddr) (int, error)
	SetReadDeadline(t time.Time) error
	SetReadBuffer(bytes int) error
	SetWriteBuffer(bytes int) error
	LocalAddr() net.Addr
	Close() error
}

// socketConn adapts *net.UDPConn to the socket interface and applies the
// extra options (SO_REUSEADDR, SO_BROADCAST) that net.ListenUDP's portable
// surface doesn't expose, via golang.org/x/sys/unix on the raw file
// descriptor. A plain net.UDPConn never exposes SO_REUSEADDR/SO_BROADCAST
// on its own, so the x/sys/unix socket option layer fills that gap
// directly.
type socketConn struct {
	*net.UDPConn
}

func (s socketConn) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	n, addr, err := s.UDPConn.ReadFromUDP(buf)
	return n, addr, err
}

func (s socketConn) WriteTo(buf []byte, addr *net.UDPAddr) (int, error) {
	return s.UDPConn.WriteToUDP(buf, addr)
}

func listenUDP(addr *net.UDPAddr) (socket, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	if err := applySocketOptions(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return socketConn{conn}, nil
}

// applySocketOptions sets SO_REUSEADDR and SO_BROADCAST and widens the
// kernel receive/send buffers to RecvBufferSize/SendBufferSize, mirroring
// the intent of hnet_socket_set_option in
// original_source/include/socket.h.
func applySocketOptions(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	err = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, RecvBufferSize); e != nil {
			opErr = e
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, SendBufferSize); e != nil {
			opErr = e
		}
	})
	if err != nil {
		return err
	}
	if opErr == syscall.ENOPROTOOPT {
		return nil
	}
	return opErr
}
