// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

/*
Audio packet layout, big endian:

	|<- 4 ->|<--- 8 --->|<-- 4 -->|<- 2 ->|<----- N * 4 ----->|
	+-------+-----------+---------+-------+-------------------+
	|  seq  | timestamp |  sample | count |      samples      |
	|uint32 |  int64 ns |  rate   |uint16 |   N * float32     |
	|       |           | uint32  |       |                   |
	+-------+-----------+---------+-------+-------------------+

The timestamp is the capture time of the first sample in nanoseconds since
the Unix epoch.
*/
const (
	HeaderSize = 18

	// MaxDatagram keeps packets under a typical Ethernet MTU.
	MaxDatagram = 1400

	MaxSamplesPerPacket = (MaxDatagram - HeaderSize) / 4
)

// ErrShortPacket is returned when a datagram is smaller than its header
// claims.
var ErrShortPacket = errors.New("udp: short packet")

// Packet is a decoded audio datagram.
type Packet struct {
	Sequence   uint32
	Timestamp  int64
	SampleRate uint32
	Samples    []float32
}

// AppendPacket encodes one packet onto dst.
func AppendPacket(dst []byte, seq uint32, timestamp int64, sampleRate uint32, samples []float32) []byte {
	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(timestamp))
	dst = binary.BigEndian.AppendUint32(dst, sampleRate)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(samples)))
	for _, s := range samples {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

// DecodePacket parses a datagram produced by AppendPacket.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	p := Packet{
		Sequence:   binary.BigEndian.Uint32(b[0:4]),
		Timestamp:  int64(binary.BigEndian.Uint64(b[4:12])),
		SampleRate: binary.BigEndian.Uint32(b[12:16]),
	}
	count := int(binary.BigEndian.Uint16(b[16:18]))
	body := b[HeaderSize:]
	if len(body) < count*4 {
		return Packet{}, fmt.Errorf("%w: %d samples declared, %d bytes present", ErrShortPacket, count, len(body))
	}
	p.Samples = make([]float32, count)
	for i := range p.Samples {
		p.Samples[i] = math.Float32frombits(binary.BigEndian.Uint32(body[i*4:]))
	}
	return p, nil
}
