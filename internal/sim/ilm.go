package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/arloliu/go-maglab/codec"
)

// heliumBoilOff is how fast the simulated helium level falls, in percent per
// minute.
const heliumBoilOff = 0.05

// Status bits of one level channel.
const (
	ilmCurrent    = 1 << 0
	ilmFast       = 1 << 1
	ilmSlow       = 1 << 2
	ilmNotFilling = 1 << 4
	ilmLow        = 1 << 5
)

type ilmChannel struct {
	use   codec.LevelUse
	level float64 // %
	fast  bool
}

type ilm struct {
	channels [codec.ILMChannels]ilmChannel
	valve    float64 // %
	display  int
	control  int
	broken   bool
}

func newILM() *ilm {
	return &ilm{
		channels: [codec.ILMChannels]ilmChannel{
			{use: codec.LevelHeliumPulsed, level: 75.3},
			{use: codec.LevelNitrogen, level: 62.0},
			{use: codec.LevelUnused},
		},
		display: 1,
	}
}

func (d *ilm) advance(dt time.Duration) {
	for i := range d.channels {
		if c := &d.channels[i]; c.use.Helium() {
			c.level = math.Max(0, c.level-heliumBoilOff*dt.Minutes())
		}
	}
}

// fault breaks the first channel; remote control clears it.
func (d *ilm) fault(code int) { d.broken = code != 0 }

func (d *ilm) channel(n int) (*ilmChannel, bool) {
	if n < 1 || n > codec.ILMChannels {
		return nil, false
	}

	return &d.channels[n-1], true
}

func (d *ilm) use(n int) codec.LevelUse {
	if n == 1 && d.broken {
		return codec.LevelError
	}

	return d.channels[n-1].use
}

func (d *ilm) read(channel int) (float64, bool) {
	if channel == codec.ILMNeedleValveChannel {
		return d.valve, true
	}
	c, ok := d.channel(channel)
	if !ok || c.use == codec.LevelUnused {
		return 0, false
	}

	return c.level, true
}

func (d *ilm) status() string {
	var bits [codec.ILMChannels]int
	relays := 0
	for i, c := range d.channels {
		if c.use == codec.LevelUnused {
			continue
		}
		bits[i] = ilmNotFilling
		if c.use.Helium() {
			if c.fast {
				bits[i] |= ilmFast | ilmCurrent
			} else {
				bits[i] |= ilmSlow
			}
		}
		if c.use.Low(c.level) {
			bits[i] |= ilmLow
			relays |= 1 << 2
		}
	}

	return fmt.Sprintf("X%d%d%dS%02X%02X%02XR%02X",
		d.use(1), d.use(2), d.use(3), bits[0], bits[1], bits[2], relays)
}

func (d *ilm) handle(cmd string) (string, bool) {
	letter, arg := cmd[0], cmd[1:]

	switch letter {
	case 'V':
		return "ILM200 Version 1.08 (c) OXFORD 1994", true
	case 'X':
		return d.status(), true
	case 'R':
		n, ok := parseInt(arg)
		if !ok {
			return reject(cmd)
		}
		v, ok := d.read(n)
		if !ok {
			return reject(cmd)
		}
		return fmt.Sprintf("R%d", int(math.Round(v*10))), true
	case 'C':
		n, ok := parseInt(arg)
		if !ok || n < 0 || n > 3 {
			return reject(cmd)
		}
		d.control = n
		if n == 3 {
			d.broken = false
		}
		return ack(cmd)
	case 'Q':
		return "", false
	case 'U', 'W':
		return ack(cmd)
	}

	if !remote(d.control) {
		return reject(cmd)
	}

	switch letter {
	case 'G':
		tenths, ok := parseFloat(arg)
		if !ok || tenths < 0 || tenths > 1000 {
			return reject(cmd)
		}
		d.valve = tenths / 10
	case 'F':
		n, ok := parseInt(arg)
		if !ok {
			return reject(cmd)
		}
		if _, valid := d.channel(n); !valid && n != codec.ILMNeedleValveChannel {
			return reject(cmd)
		}
		d.display = n
	case 'S', 'T':
		n, ok := parseInt(arg)
		if !ok {
			return reject(cmd)
		}
		c, ok := d.channel(n)
		if !ok || !c.use.Helium() {
			return reject(cmd)
		}
		c.fast = letter == 'T'
	default:
		return reject(cmd)
	}

	return ack(cmd)
}
