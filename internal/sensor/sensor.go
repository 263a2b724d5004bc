package sensor

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

// firstAnalogChannel is the channel id wired to ADC input 0.
const firstAnalogChannel = 16

const defaultSupply = 3.3

// NTC describes a thermistor in a voltage divider with a pull-up resistor.
type NTC struct {
	Beta     float64 `yaml:"beta"`
	R0       float64 `yaml:"r0"`
	T0       float64 `yaml:"t0"`
	PullUp   float64 `yaml:"pull_up"`
	Supply   float64 `yaml:"supply"`
	Decimals int     `yaml:"decimals"`
}

// Celsius converts the divider voltage to a temperature.
func (n NTC) Celsius(volts float64) (float64, error) {
	supply := n.Supply
	if supply == 0 {
		supply = defaultSupply
	}
	supply = math.Max(supply, volts)
	if supply == volts {
		return 0, fmt.Errorf("ntc voltage %.3f at supply rail", volts)
	}

	rntc := volts * n.PullUp / (supply - volts)
	if rntc <= 0 || n.R0 <= 0 || n.Beta == 0 {
		return 0, fmt.Errorf("ntc resistance %.1f out of range", rntc)
	}

	t := 1/(1/(n.T0+273)+math.Log(rntc/n.R0)/n.Beta) - 273
	if n.Decimals > 0 {
		p := math.Pow(10, float64(n.Decimals))
		t = math.Round(t*p) / p
	}
	return t, nil
}

// Hub reads analog channels from a Linux IIO ADC device such as the ADS1115.
type Hub struct {
	mu     sync.Mutex
	device string
	ntc    map[string]NTC
	last   map[uint8]float64
}

func NewHub(device string, ntc map[string]NTC) *Hub {
	return &Hub{
		device: device,
		ntc:    ntc,
		last:   map[uint8]float64{},
	}
}

// ReadValue returns volts for analog inputs and degrees Celsius for NTC inputs.
func (h *Hub) ReadValue(ch model.Channel) (float64, error) {
	if ch.ID < firstAnalogChannel || ch.ID >= model.MaxChannels {
		return 0, fmt.Errorf("channel %d has no adc input: %w", ch.ID, model.ErrUnsupported)
	}

	var value float64
	switch ch.Type {
	case model.InputAnalog:
		v, err := h.readVolts(int(ch.ID - firstAnalogChannel))
		if err != nil {
			return 0, err
		}
		value = v

	case model.InputNtcThermistor:
		profile, ok := h.ntc[ch.Model]
		if !ok {
			return 0, fmt.Errorf("no ntc profile for model %q: %w", ch.Model, model.ErrUnsupported)
		}
		v, err := h.readVolts(int(ch.ID - firstAnalogChannel))
		if err != nil {
			return 0, err
		}
		t, err := profile.Celsius(v)
		if err != nil {
			return 0, fmt.Errorf("channel %d: %w: %w", ch.ID, model.ErrIO, err)
		}
		value = t

	default:
		return 0, fmt.Errorf("channel %d type %s: %w", ch.ID, ch.Type, model.ErrUnsupported)
	}

	h.observe(ch.ID, value)
	return value, nil
}

func (h *Hub) readVolts(input int) (float64, error) {
	raw, err := readNumber(filepath.Join(h.device, fmt.Sprintf("in_voltage%d_raw", input)))
	if err != nil {
		return 0, err
	}
	scale, err := readNumber(filepath.Join(h.device, fmt.Sprintf("in_voltage%d_scale", input)))
	if err != nil {
		// some drivers only expose a shared scale
		scale, err = readNumber(filepath.Join(h.device, "in_voltage_scale"))
		if err != nil {
			return 0, err
		}
	}
	return raw * scale / 1000, nil
}

func readNumber(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w: %w", path, model.ErrIO, err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w: %w", path, model.ErrIO, err)
	}
	return v, nil
}

func (h *Hub) observe(id uint8, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, seen := h.last[id]
	if seen && math.Abs(prev-value) < 0.05 {
		return
	}
	h.last[id] = value
	log.Debug().Uint8("channel", id).Float64("value", value).Msg("Sensor reading changed")
}
