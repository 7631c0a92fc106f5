// Package rulecache implements the cache codec (C4): the on-disk binary
// layout, integrity check, and rebuild discipline described in spec.md
// §4.4 and §6.
package rulecache

import "encoding/binary"

// Status is the cache header's trust word. Any value other than Usable
// means "do not trust", per spec.md §4.4.
type Status uint16

const (
	StatusEmpty    Status = 0xAAAA
	StatusSearched Status = 0x5555
	StatusUnusable Status = 0xAD0B
	StatusUsable   Status = 0x0D60
	StatusInvalid  Status = 0xFFFF
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "EMPTY"
	case StatusSearched:
		return "SEARCHED"
	case StatusUnusable:
		return "UNUSABLE"
	case StatusUsable:
		return "USABLE"
	case StatusInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// Capacity constants, per spec.md §6 defaults.
const (
	DefaultHashesPerIndex  = 128 // H
	DefaultBucketsPerIndex = 160 // B
	DefaultBucketSize      = 128 // S (bytes)

	MaxCollisionAttempts = 255
)

// Byte offsets within the fixed 32-byte header, per spec.md §4.4/§6.
const (
	magicOffset    = 0
	magicLen       = 8
	hOffset        = 8
	bOffset        = 9
	sOffset        = 10
	statusOffset   = 11 // CACHE_STATUS_OFFSET
	seedOffset     = 13 // CACHE_HASH_SEED_OFFSET
	crcOffset      = 17 // CRC16_OFFSET
	headerSize     = 32
	firstIndexOff  = headerSize
	indexAlignment = 16
)

var magicBytes = [magicLen]byte{'s', 'y', 's', 'd', 'b', '-', '0', '1'}

// Header is the fixed 32-byte cache file preamble.
type Header struct {
	H      uint8
	B      uint8
	S      uint8
	Status Status
	Seed   uint32
	CRC16  uint16
}

func (h *Header) encode() [headerSize]byte {
	var buf [headerSize]byte
	copy(buf[magicOffset:magicOffset+magicLen], magicBytes[:])
	buf[hOffset] = h.H
	buf[bOffset] = h.B
	buf[sOffset] = h.S
	binary.LittleEndian.PutUint16(buf[statusOffset:], uint16(h.Status))
	binary.LittleEndian.PutUint32(buf[seedOffset:], h.Seed)
	binary.LittleEndian.PutUint16(buf[crcOffset:], h.CRC16)
	return buf
}

func decodeHeader(buf []byte) (*Header, bool) {
	if len(buf) < headerSize {
		return nil, false
	}
	if string(buf[magicOffset:magicOffset+magicLen]) != string(magicBytes[:]) {
		return nil, false
	}
	return &Header{
		H:      buf[hOffset],
		B:      buf[bOffset],
		S:      buf[sOffset],
		Status: Status(binary.LittleEndian.Uint16(buf[statusOffset:])),
		Seed:   binary.LittleEndian.Uint32(buf[seedOffset:]),
		CRC16:  binary.LittleEndian.Uint16(buf[crcOffset:]),
	}, true
}

// indexHeaderSize is the fixed part of an index block before its hash
// slots begin: 8-byte next pointer, 2 one-byte counters, padded to
// 16-byte alignment.
const indexHeaderSizeRaw = 8 + 1 + 1

func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

var indexHeaderSize = alignUp(indexHeaderSizeRaw, indexAlignment)

// hashSlotSize is the fixed 8-byte hash slot descriptor: 4-byte hash,
// then buckets/first_bucket/last_bucket_length/flags, one byte each.
const hashSlotSize = 4 + 1 + 1 + 1 + 1

// hashSlot is one 8-byte descriptor within an index's hash-slot array.
type hashSlot struct {
	Hash             uint32
	Buckets          uint8
	FirstBucket      uint8
	LastBucketLength uint8
	Flags            uint8
}

const slotUsedFlag uint8 = 1 << 0

func (s hashSlot) encode() [hashSlotSize]byte {
	var buf [hashSlotSize]byte
	binary.LittleEndian.PutUint32(buf[0:], s.Hash)
	buf[4] = s.Buckets
	buf[5] = s.FirstBucket
	buf[6] = s.LastBucketLength
	buf[7] = s.Flags
	return buf
}

func decodeHashSlot(buf []byte) hashSlot {
	return hashSlot{
		Hash:             binary.LittleEndian.Uint32(buf[0:]),
		Buckets:          buf[4],
		FirstBucket:      buf[5],
		LastBucketLength: buf[6],
		Flags:            buf[7],
	}
}

// indexSize computes the total on-disk size of one index block given the
// header's H, B, S capacities.
func indexSize(h *Header) int {
	return indexHeaderSize + int(h.H)*hashSlotSize + int(h.B)*int(h.S)
}
