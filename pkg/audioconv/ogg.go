package audioconv

import (
	"bytes"
	"encoding/binary"
)

// Minimal Ogg muxer for a single mono Opus stream (RFC 7845 framing). Only
// what EncodeOggOpus needs: an ID header page, a comment page and data pages
// with one lacing table each.

const (
	oggFlagBOS = 0x02
	oggFlagEOS = 0x04

	// A page's lacing table holds at most 255 segments; flush well before
	// that so one more packet always fits.
	maxPageSegments = 200
)

type oggOpusWriter struct {
	buf    bytes.Buffer
	serial uint32
	seq    uint32

	pending     [][]byte
	pendingSegs int
	granule     uint64
	finished    bool
}

func newOggOpusWriter(serial uint32, preSkip uint16) *oggOpusWriter {
	w := &oggOpusWriter{serial: serial, granule: uint64(preSkip)}
	w.writePage(oggFlagBOS, 0, [][]byte{opusHead(preSkip)})
	w.writePage(0, 0, [][]byte{opusTags()})
	return w
}

// appendPacket queues one encoded frame. samples is the frame length at
// 48 kHz; last marks the final packet of the stream.
func (w *oggOpusWriter) appendPacket(pkt []byte, samples int, last bool) {
	segs := len(pkt)/255 + 1
	if w.pendingSegs+segs > maxPageSegments {
		w.writePage(0, w.granule, w.pending)
		w.pending = nil
		w.pendingSegs = 0
	}

	buf := make([]byte, len(pkt))
	copy(buf, pkt)
	w.pending = append(w.pending, buf)
	w.pendingSegs += segs
	w.granule += uint64(samples)

	if last {
		w.writePage(oggFlagEOS, w.granule, w.pending)
		w.pending = nil
		w.pendingSegs = 0
		w.finished = true
	}
}

func (w *oggOpusWriter) bytes() []byte {
	if !w.finished && len(w.pending) > 0 {
		w.writePage(oggFlagEOS, w.granule, w.pending)
		w.pending = nil
		w.pendingSegs = 0
		w.finished = true
	}
	return w.buf.Bytes()
}

func (w *oggOpusWriter) writePage(flags byte, granule uint64, packets [][]byte) {
	var lacing []byte
	var payload []byte
	for _, pkt := range packets {
		n := len(pkt)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		payload = append(payload, pkt...)
	}

	header := make([]byte, 27, 27+len(lacing))
	copy(header, "OggS")
	header[4] = 0 // stream structure version
	header[5] = flags
	binary.LittleEndian.PutUint64(header[6:], granule)
	binary.LittleEndian.PutUint32(header[14:], w.serial)
	binary.LittleEndian.PutUint32(header[18:], w.seq)
	// header[22:26] crc, filled below
	header[26] = byte(len(lacing))
	header = append(header, lacing...)

	page := append(header, payload...)
	binary.LittleEndian.PutUint32(page[22:], oggCRC(page))

	w.buf.Write(page)
	w.seq++
}

func opusHead(preSkip uint16) []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1 // version
	head[9] = 1 // channel count
	binary.LittleEndian.PutUint16(head[10:], preSkip)
	binary.LittleEndian.PutUint32(head[12:], opusSampleRate)
	// output gain 0, mapping family 0
	return head
}

func opusTags() []byte {
	const vendor = "voxgram"
	tags := make([]byte, 0, 8+4+len(vendor)+4)
	tags = append(tags, "OpusTags"...)
	tags = binary.LittleEndian.AppendUint32(tags, uint32(len(vendor)))
	tags = append(tags, vendor...)
	tags = binary.LittleEndian.AppendUint32(tags, 0) // no user comments
	return tags
}

// Ogg page checksum: CRC-32 with polynomial 0x04c11db7, no reflection, zero
// init and zero final xor, computed with the crc field itself zeroed.
var oggCRCTable = func() [256]uint32 {
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()

func oggCRC(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}
