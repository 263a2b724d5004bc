package program

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

const guardRecordSize = 8

// LoadGuards reads the guard table at path. A missing table means no guards.
func LoadGuards(path string) ([]model.Guard, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("No guard table, running without guards")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read guard table: %w: %w", model.ErrIO, err)
	}
	return DecodeGuards(data)
}

func DecodeGuards(data []byte) ([]model.Guard, error) {
	var guards []model.Guard

	for off := 0; off+guardRecordSize <= len(data); off += guardRecordSize {
		rec := data[off : off+guardRecordSize]
		g := model.Guard{
			Type:      model.GuardType(rec[0]),
			ChannelID: rec[1],
			GuardID:   rec[2],
			Threshold: model.Threshold(rec[3]),
			Level:     math.Float32frombits(binary.LittleEndian.Uint32(rec[4:])),
		}
		if g.Type == model.EndOfGuards {
			return guards, nil
		}
		if len(guards) == model.MaxGuards {
			log.Warn().Int("max", model.MaxGuards).Msg("Guard table has extra records, ignoring them")
			return guards, nil
		}
		if err := validateGuard(len(guards), g); err != nil {
			return nil, err
		}
		guards = append(guards, g)
	}

	if len(data)%guardRecordSize != 0 && len(guards) < model.MaxGuards {
		return nil, fmt.Errorf("%w: guard table has a truncated record", model.ErrConfigInvalid)
	}
	return guards, nil
}

func validateGuard(index int, g model.Guard) error {
	switch {
	case g.Type != model.Condition && g.Type != model.Trigger:
		return fmt.Errorf("%w: guard %d has unknown type %d", model.ErrConfigInvalid, index, uint8(g.Type))
	case g.ChannelID >= model.NumRelays:
		return fmt.Errorf("%w: guard %d targets channel %d, not a relay", model.ErrConfigInvalid, index, g.ChannelID)
	case g.GuardID >= model.MaxChannels:
		return fmt.Errorf("%w: guard %d reads unknown channel %d", model.ErrConfigInvalid, index, g.GuardID)
	case !g.Threshold.Valid():
		return fmt.Errorf("%w: guard %d has unknown threshold %d", model.ErrConfigInvalid, index, uint8(g.Threshold))
	}
	return nil
}

// EncodeGuards renders guards in the on-disk layout, terminated by an end-of-guards record.
func EncodeGuards(guards []model.Guard) []byte {
	out := make([]byte, 0, (len(guards)+1)*guardRecordSize)
	for _, g := range guards {
		rec := make([]byte, guardRecordSize)
		rec[0] = uint8(g.Type)
		rec[1] = g.ChannelID
		rec[2] = g.GuardID
		rec[3] = uint8(g.Threshold)
		binary.LittleEndian.PutUint32(rec[4:], math.Float32bits(g.Level))
		out = append(out, rec...)
	}
	end := make([]byte, guardRecordSize)
	end[0] = uint8(model.EndOfGuards)
	return append(out, end...)
}
