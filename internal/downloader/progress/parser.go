package progress

import (
	"regexp"
	"strconv"
	"strings"
)

// ffmpeg reports cumulative output size in two shapes depending on how it is
// invoked: `-progress pipe:1` emits key/value lines such as `total_size=1048576`
// (bytes), while the classic stats line looks like `size=    1024kB ...` (KiB).
var (
	totalSizePattern = regexp.MustCompile(`^total_size=\s*(\d+)`)
	statsSizePattern = regexp.MustCompile(`size=\s*(\d+)`)
)

// ParseLine extracts a cumulative byte-count sample from one line of ffmpeg
// progress output. The second return value is false when the line carries no
// sample; malformed or unrelated lines are never an error.
func ParseLine(line string) (int64, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.Contains(line, "size=") {
		return 0, false
	}

	if m := totalSizePattern.FindStringSubmatch(line); m != nil {
		bytes, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return bytes, true
	}

	if m := statsSizePattern.FindStringSubmatch(line); m != nil {
		kib, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kib * 1024, true
	}

	return 0, false
}
