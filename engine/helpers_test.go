package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-maglab/codec"
	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/transport/transporttest"
)

const testTimeout = 20 * time.Millisecond

// newTestEngine returns an IPS120 engine over s with short timeouts and no
// turnaround gap.
func newTestEngine(t *testing.T, s *transporttest.Session, opts ...Option) *Engine {
	t.Helper()

	defaults := []Option{
		WithTimeout(testTimeout),
		WithTurnaround(0),
		WithLogger(logger.NewPermissiveMockLogger()),
	}
	e, err := New(s, codec.IPS120(), append(defaults, opts...)...)
	require.NoError(t, err)

	return e
}

// ipsHandler answers like an idle IPS120.
func ipsHandler(cmd string) transporttest.Reply {
	switch {
	case cmd == "X":
		return transporttest.Line("X00A0C3H1M10P03")
	case cmd == "V":
		return transporttest.Line("IPS120-10  Version 3.07  (c) OXFORD 1996")
	case cmd[0] == 'R':
		return transporttest.Line("R+1.0000")
	case cmd[0] == 'Q':
		return transporttest.NoReply()
	default:
		return transporttest.Line(cmd[:1])
	}
}
