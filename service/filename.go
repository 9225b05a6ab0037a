package service

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// recordingTimeLayout is the {time} placeholder format of egress file names.
const recordingTimeLayout = "2006-01-02T150405"

// ParseRecordingTimestamp extracts the start time embedded at the end of a
// recording file name, either as unix seconds ("room-1700000000.mp4") or in
// recordingTimeLayout ("room-2024-01-02T150405.mp4").
func ParseRecordingTimestamp(name string) (int64, bool) {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	if i := strings.LastIndex(stem, "-"); i >= 0 && i < len(stem)-1 {
		if v, err := strconv.ParseInt(stem[i+1:], 10, 64); err == nil && v > 0 {
			if v > 1e12 {
				v /= 1000
			}
			return v, true
		}
	}

	if len(stem) >= len(recordingTimeLayout) {
		if t, err := time.ParseInLocation(recordingTimeLayout, stem[len(stem)-len(recordingTimeLayout):], time.UTC); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}
