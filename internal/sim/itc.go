package sim

import (
	"fmt"
	"time"
)

// bathTemperature is where the simulated sample settles with the heater off.
const bathTemperature = 4.2

type itc struct {
	temperature float64
	setpoint    float64
	rate        float64 // K/min
	mode        int     // A: bit 0 heater auto, bit 1 gas auto
	control     int
	sweep       int // S: odd while sweeping to a step, even while holding it
	sensor      int
	autoPID     int
	heater      float64 // %
	gas         float64 // %
	p, i, d     float64
	maxVolts    float64
	system      int
	extended    bool
}

func newITC() *itc {
	return &itc{
		temperature: bathTemperature,
		rate:        2,
		sensor:      1,
		p:           10,
		i:           1,
		maxVolts:    40,
	}
}

func (d *itc) goal() float64 {
	if d.mode&1 == 1 {
		return d.setpoint
	}

	// manual heater output lifts the sample above the bath
	return bathTemperature + d.heater
}

func (d *itc) advance(dt time.Duration) {
	d.temperature = approach(d.temperature, d.goal(), d.rate*dt.Minutes())
	if d.sweep%2 == 1 && d.temperature == d.goal() {
		d.sweep++
	}
}

func (d *itc) fault(code int) { d.system = code }

func (d *itc) read(channel int) (float64, bool) {
	switch channel {
	case 0:
		return d.setpoint, true
	case 1, 2, 3:
		return d.temperature, true
	case 4:
		return d.setpoint - d.temperature, true
	case 5:
		return d.heater, true
	case 6:
		return d.heater * d.maxVolts / 100, true
	case 7:
		return d.gas, true
	case 8:
		return d.p, true
	case 9:
		return d.i, true
	case 10:
		return d.d, true
	default:
		return 0, false
	}
}

func (d *itc) handle(cmd string) (string, bool) {
	letter, arg := cmd[0], cmd[1:]

	switch letter {
	case 'V':
		return "ITC503 Version 1.1 (c) OXFORD 1998", true
	case 'X':
		return fmt.Sprintf("X%dA%dC%dS%02dH%dL%d", d.system, d.mode, d.control, d.sweep, d.sensor, d.autoPID), true
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
			return fmt.Sprintf("R%.4f", v), true
		}
		return fmt.Sprintf("R%.3f", v), true
	case 'C':
		n, ok := parseInt(arg)
		if !ok || n < 0 || n > 3 {
			return reject(cmd)
		}
		d.control = n
		if n == 3 {
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

	if letter == 'A' || letter == 'S' || letter == 'H' || letter == 'L' {
		n, ok := parseInt(arg)
		if !ok {
			return reject(cmd)
		}
		switch letter {
		case 'A':
			if n < 0 || n > 3 {
				return reject(cmd)
			}
			d.mode = n
		case 'S':
			if n < 0 || n > 32 {
				return reject(cmd)
			}
			d.sweep = 0
			if n > 0 {
				d.sweep = 2*n - 1
			}
		case 'H':
			d.sensor = n
		case 'L':
			d.autoPID = n
		}
		return ack(cmd)
	}

	v, ok := parseFloat(arg)
	if !ok || v < 0 {
		return reject(cmd)
	}
	switch letter {
	case 'T':
		d.setpoint = v
	case 'O':
		d.heater = v
	case 'G':
		d.gas = v
	case 'P':
		d.p = v
	case 'I':
		d.i = v
	case 'D':
		d.d = v
	case 'M':
		d.maxVolts = v
	default:
		return reject(cmd)
	}

	return ack(cmd)
}
