package binaryCoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/i5heu/branchpoints/pkg/types"
)

// Entry is one URL -> record mapping of a repository's branch map.
type Entry struct {
	URL    string
	Record types.CopyRecord
}

// EncodeBranchMap serializes entries in the given order:
// int32 count, then per entry key, source, target, sourceRevision,
// targetRevision. Integers are big-endian.
func EncodeBranchMap(entries []Entry) ([]byte, error) {
	if len(entries) > math.MaxInt32 {
		return nil, fmt.Errorf("branch map too large: %d entries", len(entries))
	}

	var buf bytes.Buffer
	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(entries)))
	buf.Write(scratch[:4])

	for _, e := range entries {
		if err := WriteString(&buf, e.URL); err != nil {
			return nil, fmt.Errorf("encode key: %w", err)
		}
		if err := WriteString(&buf, e.Record.Source); err != nil {
			return nil, fmt.Errorf("encode source of %q: %w", e.URL, err)
		}
		if err := WriteString(&buf, e.Record.Target); err != nil {
			return nil, fmt.Errorf("encode target of %q: %w", e.URL, err)
		}
		binary.BigEndian.PutUint64(scratch[:], uint64(e.Record.SourceRevision))
		buf.Write(scratch[:])
		binary.BigEndian.PutUint64(scratch[:], uint64(e.Record.TargetRevision))
		buf.Write(scratch[:])
	}

	return buf.Bytes(), nil
}

// DecodeBranchMap is the inverse of EncodeBranchMap. Trailing bytes are an
// error.
func DecodeBranchMap(data []byte) ([]Entry, error) {
	r := bytes.NewReader(data)

	var count int32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("decode entry count: %w", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("decode entry count: negative count %d", count)
	}

	entries := make([]Entry, 0, min(int(count), 1024))
	for i := int32(0); i < count; i++ {
		key, err := ReadString(r)
		if err != nil {
			return nil, fmt.Errorf("decode key of entry %d: %w", i, err)
		}
		source, err := ReadString(r)
		if err != nil {
			return nil, fmt.Errorf("decode source of entry %d: %w", i, err)
		}
		target, err := ReadString(r)
		if err != nil {
			return nil, fmt.Errorf("decode target of entry %d: %w", i, err)
		}
		var revs [2]int64
		if err := binary.Read(r, binary.BigEndian, &revs); err != nil {
			return nil, fmt.Errorf("decode revisions of entry %d: %w", i, err)
		}

		entries = append(entries, Entry{
			URL: key,
			Record: types.CopyRecord{
				Source:         source,
				SourceRevision: revs[0],
				Target:         target,
				TargetRevision: revs[1],
			},
		})
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("decode branch map: %d trailing bytes", r.Len())
	}

	return entries, nil
}
