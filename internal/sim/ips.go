package sim

import (
	"fmt"
	"math"
	"time"
)

// teslaPerAmp converts supply current to field for the simulated magnet.
const teslaPerAmp = 7.0 / 98.46

// switch heater digit values
const (
	heaterOffZero  = 0
	heaterOn       = 1
	heaterOffField = 2
	heaterNone     = 8
)

type ips struct {
	field      float64 // supply output, T
	target     float64
	rate       float64 // T/min
	activity   int
	control    int
	heater     int
	persistent float64 // field trapped in the magnet while the heater is off
	system     int
	mode       int
	polarity   int
	extended   bool
}

func newIPS() *ips {
	return &ips{
		rate:    0.5,
		mode:    1,
		heater:  heaterOn,
		control: 0,
	}
}

func (d *ips) magnetField() float64 {
	if d.heater == heaterOn || d.heater == heaterNone {
		return d.field
	}

	return d.persistent
}

func (d *ips) goal() (float64, bool) {
	switch d.activity {
	case 1:
		return d.target, true
	case 2:
		return 0, true
	default:
		return d.field, false
	}
}

func (d *ips) advance(dt time.Duration) {
	if d.activity == 4 {
		d.field = 0
		return
	}
	if goal, ok := d.goal(); ok {
		d.field = approach(d.field, goal, math.Abs(d.rate)*dt.Minutes())
	}
}

func (d *ips) sweeping() bool {
	goal, ok := d.goal()
	return ok && d.field != goal
}

func (d *ips) fault(code int) {
	d.system = code
	if code == 1 {
		// a quench dumps the stored energy
		d.field, d.persistent, d.activity = 0, 0, 0
	}
}

func (d *ips) status() string {
	sweep := 0
	if d.sweeping() {
		sweep = 1
	}

	return fmt.Sprintf("X%d0A%dC%dH%dM%d%dP%d3", d.system, d.activity, d.control, d.heater, d.mode, sweep, d.polarity)
}

func (d *ips) read(channel int) (float64, bool) {
	switch channel {
	case 0:
		return d.field / teslaPerAmp, true
	case 1:
		return 0, true
	case 2:
		return d.magnetField() / teslaPerAmp, true
	case 5:
		return d.target / teslaPerAmp, true
	case 6:
		return d.rate / teslaPerAmp, true
	case 7:
		return d.field, true
	case 8:
		return d.target, true
	case 9:
		return d.rate, true
	case 16:
		return d.persistent / teslaPerAmp, true
	case 18:
		return d.persistent, true
	case 10, 15, 17, 19, 20, 21, 22, 23, 24:
		return 0, true
	default:
		return 0, false
	}
}

func (d *ips) handle(cmd string) (string, bool) {
	letter, arg := cmd[0], cmd[1:]

	switch letter {
	case 'V':
		return "IPS120-10  Version 3.07  (c) OXFORD 1996", true
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
		if d.extended {
			return fmt.Sprintf("R%+.5f", v), true
		}
		return fmt.Sprintf("R%+.4f", v), true
	case 'C':
		n, ok := parseInt(arg)
		if !ok || n < 0 || n > 3 {
			return reject(cmd)
		}
		d.control = n
		if n == 3 && d.system != 0 {
			d.system = 0
		}
		return ack(cmd)
	case 'Q':
		if n, ok := parseInt(arg); ok {
			d.extended = n&4 != 0
		}
		return "", false
	case 'U', 'W':
		return ack(cmd)
	}

	if !remote(d.control) {
		return reject(cmd)
	}

	switch letter {
	case 'J':
		v, ok := parseFloat(arg)
		if !ok || math.Abs(v) > 7 {
			return reject(cmd)
		}
		d.target = v
	case 'I':
		v, ok := parseFloat(arg)
		if !ok || math.Abs(v) > 98.46 {
			return reject(cmd)
		}
		d.target = v * teslaPerAmp
	case 'T':
		v, ok := parseFloat(arg)
		if !ok {
			return reject(cmd)
		}
		d.rate = v
	case 'S':
		v, ok := parseFloat(arg)
		if !ok {
			return reject(cmd)
		}
		d.rate = v * teslaPerAmp
	case 'A':
		n, ok := parseInt(arg)
		if !ok || (n != 0 && n != 1 && n != 2 && n != 4) {
			return reject(cmd)
		}
		d.activity = n
	case 'H':
		return d.switchHeater(cmd, arg)
	case 'M':
		n, ok := parseInt(arg)
		if !ok {
			return reject(cmd)
		}
		d.mode = n
	case 'P':
		n, ok := parseInt(arg)
		if !ok {
			return reject(cmd)
		}
		d.polarity = n
	default:
		return reject(cmd)
	}

	return ack(cmd)
}

// switchHeater refuses to open the switch while the supply output differs
// from the persistent field, as the controller does.
func (d *ips) switchHeater(cmd, arg string) (string, bool) {
	if d.heater == heaterNone {
		return reject(cmd)
	}
	switch arg {
	case "1":
		if d.heater != heaterOn && math.Abs(d.field-d.persistent) > 1e-4 {
			return reject(cmd)
		}
		d.heater = heaterOn
	case "0":
		if d.heater == heaterOn {
			d.persistent = d.field
		}
		d.heater = heaterOffField
		if d.persistent == 0 {
			d.heater = heaterOffZero
		}
	default:
		return reject(cmd)
	}

	return ack(cmd)
}
