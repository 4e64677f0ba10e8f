package tunnel

import (
	"fmt"
	"io"
	"net"

	"github.com/klpod221/kerminal-sub000/internal/util"
)

// SOCKS5 wire constants, RFC 1928 subset: no-auth only, CONNECT only.
const (
	socksVersion    = 0x05
	socksMethodNone = 0x00

	socksCmdConnect = 0x01

	socksAtypIPv4   = 0x01
	socksAtypDomain = 0x03
	socksAtypIPv6   = 0x04

	socksReplyOK      = 0x00
	socksReplyRefused = 0x05
)

// socksTarget is the endpoint a SOCKS5 client asked to reach.
type socksTarget struct {
	Host string
	Port int
}

func (t socksTarget) Addr() string {
	return util.HostPort(t.Host, t.Port)
}

// negotiateSocks5 reads the client greeting and connect request from rw and
// returns the requested target.
//
// The method list is accepted whatever it contains; the reply always selects
// "no authentication". Any malformed or truncated frame, or an unsupported
// command or address type, returns an error without writing a request reply —
// the caller drops the connection, granting no partial trust.
func negotiateSocks5(rw io.ReadWriter) (socksTarget, error) {
	var head [2]byte
	if _, err := io.ReadFull(rw, head[:]); err != nil {
		return socksTarget{}, fmt.Errorf("read greeting: %w", err)
	}
	if head[0] != socksVersion {
		return socksTarget{}, fmt.Errorf("unsupported socks version 0x%02x", head[0])
	}
	methods := make([]byte, int(head[1]))
	if _, err := io.ReadFull(rw, methods); err != nil {
		return socksTarget{}, fmt.Errorf("read method list: %w", err)
	}
	if _, err := rw.Write([]byte{socksVersion, socksMethodNone}); err != nil {
		return socksTarget{}, fmt.Errorf("write method selection: %w", err)
	}

	var req [4]byte
	if _, err := io.ReadFull(rw, req[:]); err != nil {
		return socksTarget{}, fmt.Errorf("read request: %w", err)
	}
	if req[0] != socksVersion {
		return socksTarget{}, fmt.Errorf("unsupported socks version 0x%02x in request", req[0])
	}
	if req[1] != socksCmdConnect {
		return socksTarget{}, fmt.Errorf("unsupported command 0x%02x", req[1])
	}

	var host string
	switch req[3] {
	case socksAtypIPv4:
		var addr [4]byte
		if _, err := io.ReadFull(rw, addr[:]); err != nil {
			return socksTarget{}, fmt.Errorf("read ipv4 address: %w", err)
		}
		host = net.IP(addr[:]).String()
	case socksAtypDomain:
		var n [1]byte
		if _, err := io.ReadFull(rw, n[:]); err != nil {
			return socksTarget{}, fmt.Errorf("read domain length: %w", err)
		}
		name := make([]byte, int(n[0]))
		if _, err := io.ReadFull(rw, name); err != nil {
			return socksTarget{}, fmt.Errorf("read domain: %w", err)
		}
		host = string(name)
	case socksAtypIPv6:
		var addr [16]byte
		if _, err := io.ReadFull(rw, addr[:]); err != nil {
			return socksTarget{}, fmt.Errorf("read ipv6 address: %w", err)
		}
		host = net.IP(addr[:]).String()
	default:
		return socksTarget{}, fmt.Errorf("unsupported address type 0x%02x", req[3])
	}

	var port [2]byte
	if _, err := io.ReadFull(rw, port[:]); err != nil {
		return socksTarget{}, fmt.Errorf("read port: %w", err)
	}
	return socksTarget{Host: host, Port: int(port[0])<<8 | int(port[1])}, nil
}

// writeSocksReply sends the fixed-format connect reply. The bound address and
// port are always zero; clients only act on the REP code.
func writeSocksReply(w io.Writer, rep byte) error {
	_, err := w.Write([]byte{socksVersion, rep, 0x00, socksAtypIPv4, 0, 0, 0, 0, 0, 0})
	return err
}
