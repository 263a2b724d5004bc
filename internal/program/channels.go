package program

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

const (
	nameSize          = 30
	channelRecordSize = 1 + nameSize + 1 + nameSize + 1

	// FullMinute is the duty cycle that keeps a relay enabled for the whole minute.
	FullMinute = 60
)

// LoadChannels reads and validates the channel table at path.
func LoadChannels(path string) ([]model.Channel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channel table: %w: %w", model.ErrConfigInvalid, err)
	}
	return DecodeChannels(data)
}

func DecodeChannels(data []byte) ([]model.Channel, error) {
	if len(data)%channelRecordSize != 0 {
		return nil, fmt.Errorf("%w: channel table size %d is not a multiple of %d",
			model.ErrConfigInvalid, len(data), channelRecordSize)
	}

	count := len(data) / channelRecordSize
	if count > model.MaxChannels {
		log.Warn().
			Int("records", count).
			Int("max", model.MaxChannels).
			Msg("Channel table has extra records, ignoring them")
		count = model.MaxChannels
	}
	if count < model.NumRelays {
		return nil, fmt.Errorf("%w: channel table has %d records, need at least %d relays",
			model.ErrConfigInvalid, count, model.NumRelays)
	}

	channels := make([]model.Channel, 0, count)
	for i := 0; i < count; i++ {
		rec := data[i*channelRecordSize : (i+1)*channelRecordSize]
		ch := model.Channel{
			ID:        rec[0],
			Name:      cString(rec[1 : 1+nameSize]),
			Type:      model.ChannelType(rec[1+nameSize]),
			Model:     cString(rec[2+nameSize : 2+2*nameSize]),
			DutyCycle: rec[channelRecordSize-1],
		}
		if err := validateChannel(i, ch); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func validateChannel(index int, ch model.Channel) error {
	if int(ch.ID) != index {
		return fmt.Errorf("%w: channel record %d has id %d", model.ErrConfigInvalid, index, ch.ID)
	}
	if !ch.Type.Valid() {
		return fmt.Errorf("%w: channel %d has unknown type %d", model.ErrConfigInvalid, ch.ID, uint8(ch.Type))
	}
	if ch.DutyCycle > FullMinute {
		return fmt.Errorf("%w: channel %d duty cycle %d exceeds %d", model.ErrConfigInvalid, ch.ID, ch.DutyCycle, FullMinute)
	}

	var ok bool
	switch {
	case ch.ID < 8:
		ok = ch.Type == model.OutputRelay
	case ch.ID < 16:
		ok = ch.IsDigital() || ch.Type == model.NotConnected
	default:
		ok = ch.IsAnalog() || ch.Type == model.NotConnected
	}
	if !ok {
		return fmt.Errorf("%w: channel %d cannot be %s", model.ErrConfigInvalid, ch.ID, ch.Type)
	}
	return nil
}

// EncodeChannels renders channels in the on-disk record layout.
func EncodeChannels(channels []model.Channel) []byte {
	out := make([]byte, 0, len(channels)*channelRecordSize)
	for _, ch := range channels {
		rec := make([]byte, channelRecordSize)
		rec[0] = ch.ID
		copy(rec[1:1+nameSize-1], ch.Name)
		rec[1+nameSize] = uint8(ch.Type)
		copy(rec[2+nameSize:2+2*nameSize-1], ch.Model)
		rec[channelRecordSize-1] = ch.DutyCycle
		out = append(out, rec...)
	}
	return out
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
