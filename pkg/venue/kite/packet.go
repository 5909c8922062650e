package kite

import (
	"encoding/binary"

	"oms-gateway/pkg/venue"
)

// Exchange segments encoded in the low byte of an instrument token whose
// prices are not scaled by 100.
const (
	segmentCDS = 3
	segmentBCD = 6
)

func priceDivisor(token uint32) float64 {
	switch token & 0xff {
	case segmentCDS:
		return 1e7
	case segmentBCD:
		return 1e4
	default:
		return 100
	}
}

// decodeTicks parses a binary ticker frame:
// [count:u16] then count × [length:u16][packet]. Frames shorter than two
// bytes are heartbeats.
func decodeTicks(frame []byte) []venue.Tick {
	if len(frame) < 2 {
		return nil
	}
	n := int(binary.BigEndian.Uint16(frame))
	ticks := make([]venue.Tick, 0, n)
	off := 2
	for range n {
		if off+2 > len(frame) {
			break
		}
		size := int(binary.BigEndian.Uint16(frame[off:]))
		off += 2
		if off+size > len(frame) {
			break
		}
		if t, ok := decodePacket(frame[off : off+size]); ok {
			ticks = append(ticks, t)
		}
		off += size
	}
	return ticks
}

// decodePacket reads the token and last price every mode starts with.
func decodePacket(p []byte) (venue.Tick, bool) {
	if len(p) < 8 {
		return venue.Tick{}, false
	}
	token := binary.BigEndian.Uint32(p[0:4])
	last := int32(binary.BigEndian.Uint32(p[4:8]))
	return venue.Tick{InstrumentToken: token, LastPrice: float64(last) / priceDivisor(token)}, true
}
