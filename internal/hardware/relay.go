package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Relay commands the charging relay. Fire-and-forget: failures are logged by
// callers, not retried.
type Relay interface {
	Set(on bool) error
}

// GPIORelay drives a relay through the sysfs GPIO interface.
type GPIORelay struct {
	pin       int
	valuePath string
}

// OpenGPIORelay exports the pin, sets it as an output, and leaves the relay
// off.
func OpenGPIORelay(pin int) (*GPIORelay, error) {
	base := fmt.Sprintf("/sys/class/gpio/gpio%d", pin)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		if err := os.WriteFile("/sys/class/gpio/export", []byte(fmt.Sprintf("%d", pin)), 0o644); err != nil {
			return nil, fmt.Errorf("export gpio %d: %w", pin, err)
		}
		// sysfs needs a moment to create the pin directory
		time.Sleep(100 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(base, "direction"), []byte("out"), 0o644); err != nil {
		return nil, fmt.Errorf("set gpio %d direction: %w", pin, err)
	}

	r := &GPIORelay{pin: pin, valuePath: filepath.Join(base, "value")}
	if err := r.Set(false); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *GPIORelay) Set(on bool) error {
	value := "0"
	if on {
		value = "1"
	}
	if err := os.WriteFile(r.valuePath, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write gpio %d value: %w", r.pin, err)
	}
	return nil
}

// SimulatedRelay logs state changes instead of driving hardware.
type SimulatedRelay struct {
	logger *logrus.Logger
}

func NewSimulatedRelay(logger *logrus.Logger) *SimulatedRelay {
	return &SimulatedRelay{logger: logger}
}

func (r *SimulatedRelay) Set(on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	r.logger.Infof("[simulated] relay %s", state)
	return nil
}

var (
	_ Relay = (*GPIORelay)(nil)
	_ Relay = (*SimulatedRelay)(nil)
)
