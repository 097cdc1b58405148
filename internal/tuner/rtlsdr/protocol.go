// SPDX-License-Identifier: MIT
package rtlsdr

import (
	"fmt"
	"math"
	"time"

	"radio/internal/tuner"
)

// Control transfer request types.
const (
	ctrlOut = 0x40 // vendor, device, host-to-device
	ctrlIn  = 0xC0 // vendor, device, device-to-host
)

// Register blocks.
const (
	blockDemod = 0
	blockUSB   = 1
	blockSys   = 2
)

// USB and system block registers.
const (
	usbSysctl    = 0x2000
	usbEPACtl    = 0x2148
	usbEPAMaxPkt = 0x2158
	demodCtl     = 0x3000
	demodCtl1    = 0x300b
)

// Tuner registers in the system block. The PLL word is written as one 32-bit
// value and the gain as a 16-bit value in tenths of dB.
const (
	tunerFreqReg = 0x3020
	tunerGainReg = 0x3024
)

const (
	xtalFreq        = 28_800_000
	bulkEndpoint    = 0x81
	bulkSize        = 16384
	transferTimeout = 5000 * time.Millisecond
)

// device issues register-level control transfers against an open handle.
type device struct {
	h Handle
}

func (d *device) control(rType uint8, value, index uint16, data []byte) error {
	n, err := d.h.Control(rType, 0, value, index, data)
	if err != nil {
		return fmt.Errorf("%w: control 0x%04x/0x%04x: %v", tuner.ErrCommunication, value, index, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: control 0x%04x/0x%04x: short transfer %d/%d",
			tuner.ErrCommunication, value, index, n, len(data))
	}
	return nil
}

// encode packs val big-endian into length bytes.
func encode(val uint32, length int) []byte {
	data := make([]byte, length)
	for i := range length {
		data[length-1-i] = byte(val >> (8 * i))
	}
	return data
}

func (d *device) writeReg(block, addr uint16, val uint32, length int) error {
	return d.control(ctrlOut, addr, block<<8|0x10, encode(val, length))
}

func (d *device) readReg(block, addr uint16, length int) (uint16, error) {
	data := make([]byte, length)
	if err := d.control(ctrlIn, addr, block<<8, data); err != nil {
		return 0, err
	}
	if length == 1 {
		return uint16(data[0]), nil
	}
	return uint16(data[1])<<8 | uint16(data[0]), nil
}

func (d *device) demodWriteReg(page uint8, addr uint16, val uint16, length int) error {
	if err := d.control(ctrlOut, addr<<8|0x20, 0x10|uint16(page), encode(uint32(val), length)); err != nil {
		return err
	}
	// The demodulator latches the write on the next read.
	_, err := d.demodReadReg(0x0a, 0x01, 1)
	return err
}

func (d *device) demodReadReg(page uint8, addr uint16, length int) (uint16, error) {
	data := make([]byte, length)
	if err := d.control(ctrlIn, addr<<8|0x20, uint16(page), data); err != nil {
		return 0, err
	}
	if length == 1 {
		return uint16(data[0]), nil
	}
	return uint16(data[1])<<8 | uint16(data[0]), nil
}

type regWrite struct {
	page   uint8
	addr   uint16
	val    uint16
	length int
}

// basebandInit brings the demodulator into SDR mode.
var basebandInit = []regWrite{
	{1, 0x01, 0x14, 1}, // soft reset
	{1, 0x01, 0x10, 1},
	{1, 0x15, 0x00, 1}, // spectrum inversion off
	{1, 0x16, 0x0000, 2},
	{1, 0x16, 0x00, 1}, // DDC shift and IF frequency
	{1, 0x17, 0x00, 1},
	{1, 0x18, 0x00, 1},
	{1, 0x19, 0x00, 1},
	{1, 0x1a, 0x00, 1},
	{1, 0x1b, 0x00, 1},
	{0, 0x19, 0x05, 1}, // SDR mode, digital AGC off
	{1, 0x93, 0xf0, 1}, // FSM state holding
	{1, 0x94, 0x0f, 1},
	{1, 0x11, 0x00, 1},
	{1, 0x04, 0x00, 1}, // RF and IF AGC loop off
	{0, 0x61, 0x60, 1}, // PID filter off
	{0, 0x06, 0x80, 1}, // default ADC datapath
	{1, 0xb1, 0x1b, 1}, // zero-IF, DC and IQ compensation
	{0, 0x0d, 0x83, 1}, // TP_CK0 clock output off
}

func (d *device) initBaseband() error {
	if err := d.writeReg(blockUSB, usbSysctl, 0x09, 1); err != nil {
		return err
	}
	if err := d.writeReg(blockUSB, usbEPAMaxPkt, 0x0002, 2); err != nil {
		return err
	}
	if err := d.writeReg(blockUSB, usbEPACtl, 0x1002, 2); err != nil {
		return err
	}
	if err := d.writeReg(blockSys, demodCtl1, 0x22, 1); err != nil {
		return err
	}
	if err := d.writeReg(blockSys, demodCtl, 0xe8, 1); err != nil {
		return err
	}
	for _, w := range basebandInit {
		if err := d.demodWriteReg(w.page, w.addr, w.val, w.length); err != nil {
			return err
		}
	}
	return nil
}

// deinitBaseband powers down the ADC.
func (d *device) deinitBaseband() error {
	return d.writeReg(blockSys, demodCtl, 0x20, 1)
}

// resetBuffer flushes the endpoint FIFO.
func (d *device) resetBuffer() error {
	if err := d.writeReg(blockUSB, usbEPACtl, 0x1002, 2); err != nil {
		return err
	}
	return d.writeReg(blockUSB, usbEPACtl, 0x0000, 2)
}

// resampleRatio is the fixed-point ratio programmed for rate.
func resampleRatio(rate uint32) uint32 {
	ratio := uint32((uint64(xtalFreq) << 22) / uint64(rate))
	return ratio & 0x0ffffffc
}

// actualRate is the rate the hardware produces for a programmed ratio.
func actualRate(ratio uint32) float64 {
	effective := ratio | (ratio&0x08000000)<<1
	return float64(uint64(xtalFreq)<<22) / float64(effective)
}

// setSampleRate programs the resampler, low half then high half, and returns
// the exact rate the hardware will produce.
func (d *device) setSampleRate(rate uint32) (float64, error) {
	ratio := resampleRatio(rate)
	if err := d.demodWriteReg(1, 0xa1, uint16(ratio&0xffff), 2); err != nil {
		return 0, err
	}
	if err := d.demodWriteReg(1, 0x9f, uint16(ratio>>16), 2); err != nil {
		return 0, err
	}
	if err := d.demodWriteReg(1, 0x01, 0x14, 1); err != nil {
		return 0, err
	}
	if err := d.demodWriteReg(1, 0x01, 0x10, 1); err != nil {
		return 0, err
	}
	return actualRate(ratio), nil
}

// tuningWord applies the ppm correction to hz. Within MinPPM..MaxPPM the
// result fits the 32-bit register for every supported frequency.
func tuningWord(hz uint32, ppm float64) uint32 {
	return uint32(math.Round(float64(hz) * (1 + ppm/1e6)))
}

func (d *device) setFrequency(hz uint32, ppm float64) error {
	return d.writeReg(blockSys, tunerFreqReg, tuningWord(hz, ppm), 4)
}

func (d *device) setGain(tenths int) error {
	return d.writeReg(blockSys, tunerGainReg, uint32(tenths), 2)
}

func (d *device) setAGC(on bool) error {
	val := uint16(0x05)
	if on {
		val = 0x25
	}
	return d.demodWriteReg(0, 0x19, val, 1)
}
