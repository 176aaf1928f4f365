package codec

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback plays an instrument that stores every setpoint it receives and
// echoes it back from the matching readback channel.
type loopback struct {
	values map[int]string
}

func (l *loopback) write(t *testing.T, wire string, readback int) string {
	t.Helper()
	body := strings.TrimSuffix(wire, "\r")
	require.NotEmpty(t, body)
	l.values[readback] = body[1:]

	return body[:1]
}

func (l *loopback) read(channel int) []byte {
	return []byte("R" + l.values[channel])
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	cases := []struct {
		g        *Grammar
		op       Opcode
		min, max float64
		channel  int
		decimals int
	}{
		{IPS120(), OpSetField, -IPSMaxField, IPSMaxField, 8, 4},
		{IPS120().WithExtendedResolution(true), OpSetField, -IPSMaxField, IPSMaxField, 8, 5},
		{IPS120(), OpSetCurrent, -IPSMaxCurrent, IPSMaxCurrent, 5, 3},
		{IPS120().WithExtendedResolution(true), OpSetCurrentRate, 0, IPSMaxCurrentRate, 6, 4},
		{IPS120(), OpSetFieldRate, 0, IPSMaxFieldRate, 9, 3},
		{ITC503(), OpSetTemperature, 0, ITCMaxTemperature, 0, 3},
		{ITC503(), OpSetHeaterOutput, 0, 100, 5, 4},
		{ITC503(), OpSetGasFlow, 0, 100, 7, 4},
		{ITC503(), OpSetProportionalBand, ITCMinProportional, ITCMaxProportional, 8, 4},
		{ITC503(), OpSetIntegralTime, 0, ITCMaxActionTime, 9, 3},
		{ITC503(), OpSetDerivativeTime, 0, ITCMaxActionTime, 10, 3},
	}

	for _, tc := range cases {
		t.Run(tc.g.Model()+"/"+tc.op.String(), func(t *testing.T) {
			inst := &loopback{values: map[int]string{}}
			tolerance := 0.5 * math.Pow10(-tc.decimals)

			samples := []float64{tc.min, tc.max}
			for range 100 {
				v := tc.min + rng.Float64()*(tc.max-tc.min)
				samples = append(samples, math.Round(v*math.Pow10(tc.decimals))/math.Pow10(tc.decimals))
			}

			for _, want := range samples {
				set := NewCommand(tc.op, Float(want))
				wire, err := tc.g.Encode(set)
				require.NoError(t, err, want)

				ack, err := tc.g.Decode(set, []byte(inst.write(t, wire, tc.channel)))
				require.NoError(t, err)
				assert.Equal(t, KindEnum, ack.Kind())

				query := Query(tc.channel)
				v, err := tc.g.Decode(query, inst.read(tc.channel))
				require.NoError(t, err, wire)
				n, ok := v.Numeric()
				require.True(t, ok)
				assert.InDelta(t, want, n.Value, tolerance, wire)
			}
		})
	}
}
