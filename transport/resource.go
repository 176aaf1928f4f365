package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind is the interface family of a resource id.
type Kind int

const (
	KindGPIB   Kind = iota // GPIB<board>::<pad>[::<sad>]::INSTR
	KindTCPIP              // TCPIP<board>::<host>::<port>::SOCKET
	KindSerial             // ASRL<path>::INSTR
	KindSim                // SIM::<model>
)

var kindNames = map[Kind]string{
	KindGPIB:   "GPIB",
	KindTCPIP:  "TCPIP",
	KindSerial: "ASRL",
	KindSim:    "SIM",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}

	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Resource is a parsed resource id. Only the fields of its Kind are set.
type Resource struct {
	Kind  Kind
	Board int

	Primary   int // GPIB primary address, 0..30
	Secondary int // GPIB secondary address, 96..126, or -1 when absent

	Host string // TCPIP
	Port int    // TCPIP

	Path string // ASRL device path, such as /dev/ttyUSB0 or COM3

	Model string // SIM
}

// Addr returns host:port for TCPIP resources.
func (r Resource) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Resource) String() string {
	switch r.Kind {
	case KindGPIB:
		if r.Secondary >= 0 {
			return fmt.Sprintf("GPIB%d::%d::%d::INSTR", r.Board, r.Primary, r.Secondary)
		}
		return fmt.Sprintf("GPIB%d::%d::INSTR", r.Board, r.Primary)
	case KindTCPIP:
		return fmt.Sprintf("TCPIP%d::%s::%d::SOCKET", r.Board, r.Host, r.Port)
	case KindSerial:
		return "ASRL" + r.Path + "::INSTR"
	case KindSim:
		return "SIM::" + r.Model
	default:
		return ""
	}
}

// ParseResource parses a VISA-style resource id. Matching of the interface
// prefix and suffix is case-insensitive.
func ParseResource(id string) (Resource, error) {
	id = strings.TrimSpace(id)
	parts := strings.Split(id, "::")
	head := strings.ToUpper(parts[0])
	tail := strings.ToUpper(parts[len(parts)-1])

	invalid := func(reason string) (Resource, error) {
		return Resource{}, fmt.Errorf("%w: %q: %s", ErrInvalidResource, id, reason)
	}

	switch {
	case head == "SIM":
		if len(parts) != 2 || parts[1] == "" {
			return invalid("want SIM::<model>")
		}
		return Resource{Kind: KindSim, Model: parts[1], Secondary: -1}, nil

	case strings.HasPrefix(head, "ASRL"):
		if len(parts) != 2 || tail != "INSTR" {
			return invalid("want ASRL<path>::INSTR")
		}
		path := parts[0][len("ASRL"):]
		if path == "" {
			return invalid("missing serial path")
		}
		// bare numbers follow the VISA convention ASRL1 == COM1
		if n, err := strconv.Atoi(path); err == nil {
			path = "COM" + strconv.Itoa(n)
		}
		return Resource{Kind: KindSerial, Path: path, Secondary: -1}, nil

	case strings.HasPrefix(head, "GPIB"):
		if (len(parts) != 3 && len(parts) != 4) || tail != "INSTR" {
			return invalid("want GPIB<board>::<pad>[::<sad>]::INSTR")
		}
		board, err := parseBoard(head[len("GPIB"):])
		if err != nil {
			return invalid(err.Error())
		}
		pad, err := strconv.Atoi(parts[1])
		if err != nil || pad < 0 || pad > 30 {
			return invalid("primary address must be 0-30")
		}
		res := Resource{Kind: KindGPIB, Board: board, Primary: pad, Secondary: -1}
		if len(parts) == 4 {
			sad, err := strconv.Atoi(parts[2])
			if err != nil || sad < 96 || sad > 126 {
				return invalid("secondary address must be 96-126")
			}
			res.Secondary = sad
		}
		return res, nil

	case strings.HasPrefix(head, "TCPIP"):
		if len(parts) != 4 || tail != "SOCKET" {
			return invalid("want TCPIP<board>::<host>::<port>::SOCKET")
		}
		board, err := parseBoard(head[len("TCPIP"):])
		if err != nil {
			return invalid(err.Error())
		}
		port, err := strconv.Atoi(parts[2])
		if err != nil || port <= 0 || port > 65535 {
			return invalid("port must be 1-65535")
		}
		if parts[1] == "" {
			return invalid("missing host")
		}
		return Resource{Kind: KindTCPIP, Board: board, Host: parts[1], Port: port, Secondary: -1}, nil
	}

	return Resource{}, fmt.Errorf("%w: %q", ErrUnsupportedResource, id)
}

func parseBoard(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid board number %q", s)
	}

	return n, nil
}
