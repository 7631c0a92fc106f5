package rulecache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"sysdispatch/internal/ruledb"
)

// RequiredMode is the mode the cache file is created with: 0600, the
// same mode the rule store requires of .dat files.
const RequiredMode = ruledb.RequiredMode

// Entry is a decoded cache hit: the tag as stored (for collision
// confirmation against the 32-bit hash) and the rule's serialized
// payload, per spec.md §3.
type Entry struct {
	TagString      string
	SerializedRule []byte
}

// Cache wraps the on-disk file at Path using the capacities in Header.
type Cache struct {
	Path   string
	Header Header
}

// Create zero-fills a fresh header and one empty index block, hardening
// ownership/mode (0600) as spec.md §4.4 requires for its "create"
// operation.
func Create(path string, h, b uint8, s uint8) (*Cache, error) {
	hdr := Header{H: h, B: b, S: s, Status: StatusEmpty}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, RequiredMode)
	if err != nil {
		return nil, fmt.Errorf("rulecache: create %s: %w", path, err)
	}
	defer f.Close()

	headerBuf := hdr.encode()
	if _, err := f.Write(headerBuf[:]); err != nil {
		return nil, fmt.Errorf("rulecache: write header: %w", err)
	}
	empty := make([]byte, indexSize(&hdr))
	binary.LittleEndian.PutUint64(empty[0:8], 0) // next_index = 0 (last)
	if _, err := f.Write(empty); err != nil {
		return nil, fmt.Errorf("rulecache: write empty index: %w", err)
	}
	return &Cache{Path: path, Header: hdr}, nil
}

// hashTag computes the 32-bit tag hash used as the cache key, seeded so
// that a collision can be retried at a different seed (spec.md §4.4).
// 0 is reserved to mean "empty slot", so a hash of exactly 0 is remapped.
func hashTag(tag string, seed uint32) uint32 {
	h := fnv.New32a()
	var seedBuf [4]byte
	binary.LittleEndian.PutUint32(seedBuf[:], seed)
	h.Write(seedBuf[:])
	h.Write([]byte(tag))
	v := h.Sum32()
	if v == 0 {
		v = 1
	}
	return v
}

// encodeRulePayload packs a rule into the wire format spec.md §6
// describes: `tag\0 command_template\0 (param_name[:v1,v2,…])\0 …\0\0`.
// The tag is included so a hash hit can be confirmed against a true
// string comparison, guarding against undetected 32-bit hash collisions
// within a rebuilt cache.
func encodeRulePayload(r *ruledb.Rule) []byte {
	var buf bytes.Buffer
	buf.WriteString(r.Tag)
	buf.WriteByte(0)
	buf.WriteString(r.CommandTemplate)
	buf.WriteByte(0)
	for _, p := range r.Params {
		buf.WriteString(p.Name)
		buf.WriteByte(':')
		buf.WriteString(strings.Join(p.Values, ","))
		buf.WriteByte(0)
	}
	buf.WriteByte(0) // terminate parameter list
	return buf.Bytes()
}

// decodeRulePayload is encodeRulePayload's inverse.
func decodeRulePayload(data []byte) (tag, commandTemplate string, params []ruledb.Param, err error) {
	fields := bytes.Split(data, []byte{0})
	if len(fields) < 2 {
		return "", "", nil, fmt.Errorf("rulecache: truncated payload")
	}
	tag = string(fields[0])
	commandTemplate = string(fields[1])
	for _, f := range fields[2:] {
		if len(f) == 0 {
			continue
		}
		name, rest, ok := strings.Cut(string(f), ":")
		if !ok {
			continue
		}
		var values []string
		if rest != "" {
			values = strings.Split(rest, ",")
		}
		params = append(params, ruledb.Param{Name: name, Values: values})
	}
	return tag, commandTemplate, params, nil
}

// DecodeRule turns a cache Entry back into a usable *ruledb.Rule, the
// same shape ruledb.Build would have produced for it (the payload
// already reflects post-expansion values, so no further variable
// substitution is needed).
func DecodeRule(e *Entry) (*ruledb.Rule, error) {
	tag, commandTemplate, params, err := decodeRulePayload(e.SerializedRule)
	if err != nil {
		return nil, err
	}
	executable, err := ruledb.ExecutableOf(commandTemplate)
	if err != nil {
		return nil, fmt.Errorf("rulecache: decode %q: %w", tag, err)
	}
	return &ruledb.Rule{
		Tag:             tag,
		Executable:      executable,
		CommandTemplate: commandTemplate,
		Params:          params,
	}, nil
}

// indexPlan is one index block's worth of (hash -> payload) assignments
// during Build, before DSW ordering and bucket packing.
type indexPlan struct {
	hashes      []uint32
	payloads    map[uint32][]byte
	usedBuckets int
}

// Build encodes every rule in rules into the cache file at path, using
// the given hash seed. It returns the resulting status: StatusUsable on
// success, or StatusInvalid if a 32-bit hash collision was detected (the
// caller should retry with seed+1, up to MaxCollisionAttempts, per
// spec.md §4.4).
func Build(path string, rules []*ruledb.Rule, seed uint32, h, b, s uint8) (Status, error) {
	hdr := Header{H: h, B: b, S: s, Seed: seed}

	seen := make(map[uint32]string, len(rules))
	plans := []*indexPlan{{payloads: make(map[uint32][]byte)}}
	cur := plans[0]

	for _, r := range rules {
		if r.Invalid {
			continue
		}
		tagHash := hashTag(r.Tag, seed)
		if existingTag, dup := seen[tagHash]; dup && existingTag != r.Tag {
			return StatusInvalid, nil
		}
		seen[tagHash] = r.Tag
		payload := encodeRulePayload(r)
		neededBuckets := (len(payload) + int(s) - 1) / int(s)
		if neededBuckets == 0 {
			neededBuckets = 1
		}
		if len(cur.hashes) >= int(h) || cur.usedBuckets+neededBuckets > int(b) {
			cur = &indexPlan{payloads: make(map[uint32][]byte)}
			plans = append(plans, cur)
		}
		cur.hashes = append(cur.hashes, tagHash)
		cur.payloads[tagHash] = payload
		cur.usedBuckets += neededBuckets
	}

	buf, err := renderCacheFile(&hdr, plans)
	if err != nil {
		return StatusUnusable, err
	}

	// The status word is inside the CRC-covered bytes, so it is set to
	// USABLE before the CRC is computed. CRC excludes the 2 CRC bytes
	// themselves.
	hdr.Status = StatusUsable
	headerBuf := hdr.encode()
	copy(buf[:headerSize], headerBuf[:])
	crc := crc16(append(append([]byte{}, buf[:crcOffset]...), buf[crcOffset+2:]...))
	hdr.CRC16 = crc
	headerBuf = hdr.encode()
	copy(buf[:headerSize], headerBuf[:])

	if err := os.WriteFile(path, buf, RequiredMode); err != nil {
		return StatusUnusable, fmt.Errorf("rulecache: write %s: %w", path, err)
	}
	return StatusUsable, nil
}

// renderCacheFile lays out the header and the chain of index blocks,
// applying DSW hash-slot ordering within each index.
func renderCacheFile(hdr *Header, plans []*indexPlan) ([]byte, error) {
	idxSize := indexSize(hdr)
	total := headerSize + idxSize*len(plans)
	buf := make([]byte, total)

	headerBuf := hdr.encode()
	copy(buf[:headerSize], headerBuf[:])

	for i, plan := range plans {
		off := headerSize + i*idxSize
		nextOff := uint64(0)
		if i+1 < len(plans) {
			nextOff = uint64(headerSize + (i+1)*idxSize)
		}
		binary.LittleEndian.PutUint64(buf[off:off+8], nextOff)

		order := buildBalancedOrder(plan.hashes, int(hdr.H))
		slotBase := off + indexHeaderSize
		bucketBase := off + indexHeaderSize + int(hdr.H)*hashSlotSize
		bucketCursor := 0
		usedBuckets := 0
		for slotIdx, hash := range order {
			slotOff := slotBase + slotIdx*hashSlotSize
			if hash == 0 {
				continue
			}
			payload := plan.payloads[hash]
			needed := (len(payload) + int(hdr.S) - 1) / int(hdr.S)
			if needed == 0 {
				needed = 1
			}
			slot := hashSlot{
				Hash:             hash,
				Buckets:          uint8(needed),
				FirstBucket:      uint8(bucketCursor),
				LastBucketLength: uint8(len(payload) - (needed-1)*int(hdr.S)),
				Flags:            slotUsedFlag,
			}
			enc := slot.encode()
			copy(buf[slotOff:slotOff+hashSlotSize], enc[:])

			dst := bucketBase + bucketCursor*int(hdr.S)
			copy(buf[dst:dst+len(payload)], payload)
			bucketCursor += needed
			usedBuckets += needed
		}
		buf[off+8] = uint8(len(plan.hashes))
		buf[off+9] = uint8(usedBuckets)
	}
	return buf, nil
}

// Search walks the index chain looking for tag, descending the implicit
// balanced BST by hash within each index, per spec.md §4.4. The hash
// seed is read from the file's own header (fixed at Build time), not
// supplied by the caller.
func Search(path, tag string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rulecache: read %s: %w", path, err)
	}
	hdr, ok := decodeHeader(data)
	if !ok {
		return nil, fmt.Errorf("rulecache: bad header in %s: %w", path, ErrCorrupt)
	}
	if hdr.Status != StatusUsable {
		return nil, fmt.Errorf("rulecache: %s not usable (status %s): %w", path, hdr.Status, ErrCorrupt)
	}
	if !CRCValid(data) {
		return nil, fmt.Errorf("rulecache: %s: %w", path, ErrCorrupt)
	}
	targetHash := hashTag(tag, hdr.Seed)
	idxSize := indexSize(hdr)

	off := firstIndexOff
	for {
		if off+8 > len(data) {
			return nil, nil
		}
		next := binary.LittleEndian.Uint64(data[off : off+8])
		slotBase := off + indexHeaderSize
		bucketBase := off + indexHeaderSize + int(hdr.H)*hashSlotSize

		if entry := searchIndex(data, hdr, slotBase, bucketBase, 0, targetHash, tag); entry != nil {
			return entry, nil
		}
		if next == 0 {
			return nil, nil
		}
		off = int(next)
		if off+idxSize > len(data) {
			return nil, nil
		}
	}
}

// searchIndex descends the implicit balanced BST stored in one index's
// hash-slot array: left child of position i is 2i+1, right is 2i+2.
func searchIndex(data []byte, hdr *Header, slotBase, bucketBase, pos int, targetHash uint32, tag string) *Entry {
	if pos >= int(hdr.H) {
		return nil
	}
	slotOff := slotBase + pos*hashSlotSize
	if slotOff+hashSlotSize > len(data) {
		return nil
	}
	slot := decodeHashSlot(data[slotOff : slotOff+hashSlotSize])
	if slot.Flags&slotUsedFlag == 0 {
		return nil
	}
	switch {
	case targetHash == slot.Hash:
		payload := readPayload(data, hdr, bucketBase, slot)
		entryTag, _, _, err := decodeRulePayload(payload)
		if err != nil || entryTag != tag {
			return nil
		}
		return &Entry{TagString: entryTag, SerializedRule: payload}
	case targetHash < slot.Hash:
		return searchIndex(data, hdr, slotBase, bucketBase, 2*pos+1, targetHash, tag)
	default:
		return searchIndex(data, hdr, slotBase, bucketBase, 2*pos+2, targetHash, tag)
	}
}

func readPayload(data []byte, hdr *Header, bucketBase int, slot hashSlot) []byte {
	start := bucketBase + int(slot.FirstBucket)*int(hdr.S)
	length := (int(slot.Buckets)-1)*int(hdr.S) + int(slot.LastBucketLength)
	if length < 0 {
		length = 0
	}
	end := start + length
	if end > len(data) {
		end = len(data)
	}
	return data[start:end]
}

// CRCValid recomputes the CRC-16 over the whole buffer excluding the 2
// CRC bytes and compares it to the stored value.
func CRCValid(data []byte) bool {
	if len(data) < headerSize {
		return false
	}
	stored := binary.LittleEndian.Uint16(data[crcOffset:])
	recomputed := crc16(append(append([]byte{}, data[:crcOffset]...), data[crcOffset+2:]...))
	return stored == recomputed
}

// GetStatus reads just the header status word, failing safe to
// StatusUnusable on any I/O error per spec.md §4.4.
func GetStatus(path string) Status {
	data, err := os.ReadFile(path)
	if err != nil {
		return StatusUnusable
	}
	hdr, ok := decodeHeader(data)
	if !ok {
		return StatusUnusable
	}
	return hdr.Status
}

// IsOutdated reports whether any input path (a .dat file, a data
// directory, or the config) has a later ctime or mtime than the cache
// file, per spec.md §4.4; for a directory, each `*.dat` file in it is
// checked as well, so an in-place edit of one is noticed. A
// mode/ownership change alone (which bumps ctime without touching
// mtime) must still invalidate a cache built under the old permissions.
func IsOutdated(cachePath string, inputs []string) bool {
	cacheInfo, err := os.Stat(cachePath)
	if err != nil {
		return true
	}
	cacheTime := latestTime(cacheInfo)
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			continue
		}
		if latestTime(info).After(cacheTime) {
			return true
		}
		if info.IsDir() {
			datFiles, _ := filepath.Glob(filepath.Join(in, "*.dat"))
			if IsOutdated(cachePath, datFiles) {
				return true
			}
		}
	}
	return false
}

// latestTime returns the later of a file's mtime and ctime. ctime is
// only available via the platform-specific syscall.Stat_t; where that
// assertion fails, mtime alone is used.
func latestTime(info os.FileInfo) time.Time {
	t := info.ModTime()
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		ctime := time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec)
		if ctime.After(t) {
			t = ctime
		}
	}
	return t
}

// BuildWithRetry runs Build repeatedly with increasing seeds on hash
// collision, up to MaxCollisionAttempts, per spec.md §4.4. On exhaustion
// it unlinks the cache file so subsequent runs fall back to parsing.
func BuildWithRetry(path string, rules []*ruledb.Rule, h, b, s uint8) error {
	for seed := uint32(0); seed < MaxCollisionAttempts; seed++ {
		status, err := Build(path, rules, seed, h, b, s)
		if err != nil {
			return err
		}
		if status == StatusUsable {
			return nil
		}
	}
	_ = os.Remove(path)
	return fmt.Errorf("%d consecutive hash collisions, cache unlinked: %w", MaxCollisionAttempts, ErrCollisionsExhausted)
}

