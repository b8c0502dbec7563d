package metadata

import (
	"encoding/binary"
	"os"
	"time"
)

func mp4Box(kind string, payload ...[]byte) []byte {
	size := 8
	for _, p := range payload {
		size += len(p)
	}
	out := make([]byte, 8, size)
	binary.BigEndian.PutUint32(out[0:4], uint32(size))
	copy(out[4:8], kind)
	for _, p := range payload {
		out = append(out, p...)
	}
	return out
}

func ftypBox(brand string) []byte {
	payload := make([]byte, 8)
	copy(payload[0:4], brand)
	return mp4Box("ftyp", payload, []byte(brand))
}

// mvhdV0 builds a version 0 movie header with a millisecond timescale.
func mvhdV0(created time.Time, seconds uint32) []byte {
	payload := make([]byte, 100)
	mac := uint32(created.Sub(macEpoch).Seconds())
	binary.BigEndian.PutUint32(payload[4:8], mac)
	binary.BigEndian.PutUint32(payload[8:12], mac)
	binary.BigEndian.PutUint32(payload[12:16], 1000)
	binary.BigEndian.PutUint32(payload[16:20], seconds*1000)
	return mp4Box("mvhd", payload)
}

// mvhdV1 builds a version 1 (64-bit) movie header.
func mvhdV1(created time.Time, seconds uint64) []byte {
	payload := make([]byte, 112)
	payload[0] = 1
	mac := uint64(created.Sub(macEpoch).Seconds())
	binary.BigEndian.PutUint64(payload[4:12], mac)
	binary.BigEndian.PutUint64(payload[12:20], mac)
	binary.BigEndian.PutUint32(payload[20:24], 44100)
	binary.BigEndian.PutUint64(payload[24:32], seconds*44100)
	return mp4Box("mvhd", payload)
}

func writeBoxes(path string, boxes ...[]byte) error {
	var data []byte
	for _, b := range boxes {
		data = append(data, b...)
	}
	return os.WriteFile(path, data, 0644)
}

// createTestM4A writes a minimal M4A with ftyp and moov/mvhd boxes.
func createTestM4A(path string, creationTime time.Time, durationSeconds uint32) error {
	return writeBoxes(path, ftypBox("M4A "), mp4Box("moov", mvhdV0(creationTime, durationSeconds)))
}
