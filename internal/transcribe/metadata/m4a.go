// Package metadata resolves what the pipeline needs to know about an audio
// file: its content fingerprint, when it was recorded, how long it is and
// whether it is audio at all.
package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrInvalidFormat indicates the file is not a valid M4A/MP4 file.
var ErrInvalidFormat = errors.New("invalid M4A format")

// M4AInfo is the movie header of an M4A file.
type M4AInfo struct {
	CreationTime time.Time
	Duration     time.Duration
}

var macEpoch = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)

var m4aBrands = map[string]bool{"M4A ": true, "mp41": true, "mp42": true, "isom": true, "qt  ": true}

// ReadM4A reads the mvhd box of an M4A file.
func ReadM4A(path string) (*M4AInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseM4A(f)
}

type box struct {
	kind    string
	start   int64 // offset of the payload
	payload int64 // payload size
}

// nextBox reads a box header at the current offset. Extended (64-bit) sizes
// and size-0 ("to end of file") boxes are supported.
func nextBox(r io.ReadSeeker, limit int64) (box, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return box{}, err
	}
	size := int64(binary.BigEndian.Uint32(hdr[0:4]))
	b := box{kind: string(hdr[4:8])}
	headerLen := int64(8)

	switch size {
	case 1:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return box{}, err
		}
		size = int64(binary.BigEndian.Uint64(ext[:]))
		headerLen = 16
	case 0:
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return box{}, err
		}
		size = limit - pos + headerLen
	}
	if size < headerLen {
		return box{}, fmt.Errorf("%w: box %q has size %d", ErrInvalidFormat, b.kind, size)
	}

	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return box{}, err
	}
	b.start = pos
	b.payload = size - headerLen
	return b, nil
}

func skipBox(r io.Seeker, b box) error {
	_, err := r.Seek(b.start+b.payload, io.SeekStart)
	return err
}

func parseM4A(r io.ReadSeeker) (*M4AInfo, error) {
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var (
		info     *M4AInfo
		sawBrand bool
	)
	for pos := int64(0); pos < end; {
		b, err := nextBox(r, end)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, err
		}

		switch b.kind {
		case "ftyp":
			var brand [4]byte
			if _, err := io.ReadFull(r, brand[:]); err != nil {
				return nil, err
			}
			if !m4aBrands[string(brand[:])] {
				return nil, ErrInvalidFormat
			}
			sawBrand = true
		case "moov":
			if info, err = parseMoov(r, b); err != nil {
				return nil, err
			}
		}

		if err := skipBox(r, b); err != nil {
			return nil, err
		}
		pos = b.start + b.payload
	}

	if !sawBrand || info == nil {
		return nil, ErrInvalidFormat
	}
	return info, nil
}

func parseMoov(r io.ReadSeeker, moov box) (*M4AInfo, error) {
	end := moov.start + moov.payload
	for pos := moov.start; pos < end; {
		b, err := nextBox(r, end)
		if err != nil {
			return nil, err
		}
		if b.kind == "mvhd" {
			return parseMvhd(r)
		}
		if err := skipBox(r, b); err != nil {
			return nil, err
		}
		pos = b.start + b.payload
	}
	return nil, ErrInvalidFormat
}

// parseMvhd reads version 0 (32-bit) and version 1 (64-bit) movie headers.
func parseMvhd(r io.Reader) (*M4AInfo, error) {
	var vf [4]byte
	if _, err := io.ReadFull(r, vf[:]); err != nil {
		return nil, err
	}

	var created, duration uint64
	var timescale uint32
	if vf[0] == 1 {
		var buf [28]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		created = binary.BigEndian.Uint64(buf[0:8])
		timescale = binary.BigEndian.Uint32(buf[16:20])
		duration = binary.BigEndian.Uint64(buf[20:28])
	} else {
		var buf [16]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		created = uint64(binary.BigEndian.Uint32(buf[0:4]))
		timescale = binary.BigEndian.Uint32(buf[8:12])
		duration = uint64(binary.BigEndian.Uint32(buf[12:16]))
	}

	info := &M4AInfo{}
	if created > 0 {
		info.CreationTime = macEpoch.Add(time.Duration(created) * time.Second)
	}
	if timescale > 0 {
		info.Duration = time.Duration(duration) * time.Second / time.Duration(timescale)
	}
	return info, nil
}
