package composer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

var (
	// ErrNoDuration is returned when a video carries no readable duration.
	ErrNoDuration = errors.New("video duration not found")
	// ErrDurationOverflow is returned when a header declares a duration
	// beyond what time.Duration can hold.
	ErrDurationOverflow = errors.New("video duration out of range")
)

// maxWholeSeconds is the first second count whose Duration, plus a fraction,
// could overflow int64 nanoseconds.
const maxWholeSeconds = math.MaxInt64 / int64(time.Second)

// maxBoxDepth bounds descent into nested boxes.
const maxBoxDepth = 4

// ProbeDuration reads the movie header (moov/mvhd) of an MP4 or QuickTime
// file and returns the presentation duration.
func ProbeDuration(r io.ReadSeeker) (time.Duration, error) {
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return findMvhd(r, 0, end, 0)
}

func findMvhd(r io.ReadSeeker, start, end int64, depth int) (time.Duration, error) {
	if depth > maxBoxDepth {
		return 0, ErrNoDuration
	}
	pos := start
	for pos+8 <= end {
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return 0, err
		}
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return 0, fmt.Errorf("read box header: %w", err)
		}
		size := int64(binary.BigEndian.Uint32(hdr[:4]))
		typ := string(hdr[4:8])
		headerLen := int64(8)

		switch size {
		case 0:
			size = end - pos
		case 1:
			var large [8]byte
			if _, err := io.ReadFull(r, large[:]); err != nil {
				return 0, fmt.Errorf("read box size: %w", err)
			}
			size = int64(binary.BigEndian.Uint64(large[:]))
			headerLen = 16
		}
		if size < headerLen || pos+size > end {
			return 0, fmt.Errorf("malformed %q box at offset %d", typ, pos)
		}

		switch typ {
		case "moov":
			return findMvhd(r, pos+headerLen, pos+size, depth+1)
		case "mvhd":
			return readMvhd(r)
		}
		pos += size
	}
	return 0, ErrNoDuration
}

// readMvhd parses the full box body following its header.
func readMvhd(r io.Reader) (time.Duration, error) {
	var vf [4]byte
	if _, err := io.ReadFull(r, vf[:]); err != nil {
		return 0, fmt.Errorf("read mvhd: %w", err)
	}

	var timescale uint32
	var duration uint64
	switch vf[0] {
	case 0:
		var b [16]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, fmt.Errorf("read mvhd: %w", err)
		}
		timescale = binary.BigEndian.Uint32(b[8:12])
		duration = uint64(binary.BigEndian.Uint32(b[12:16]))
	case 1:
		var b [28]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, fmt.Errorf("read mvhd: %w", err)
		}
		timescale = binary.BigEndian.Uint32(b[16:20])
		duration = binary.BigEndian.Uint64(b[20:28])
	default:
		return 0, fmt.Errorf("unsupported mvhd version %d", vf[0])
	}
	if timescale == 0 {
		return 0, ErrNoDuration
	}
	secs := duration / uint64(timescale)
	rem := duration % uint64(timescale)
	if secs >= uint64(maxWholeSeconds) {
		return 0, fmt.Errorf("%w: %d seconds", ErrDurationOverflow, secs)
	}
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(timescale), nil
}
