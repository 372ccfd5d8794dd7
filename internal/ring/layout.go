package ring

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	// Slots is the ring capacity in messages.
	Slots = 32
	// SlotSize is the width of one slot including its NUL terminator.
	SlotSize = 256
	// MaxText is the longest message, in bytes, a slot can hold.
	MaxText = SlotSize - 1

	headerSize = 8
	// SegmentSize is the size of the memory segment: sequence + slots.
	SegmentSize = headerSize + Slots*SlotSize

	eventSize = 8
)

const (
	// HostLabel prefixes messages written by the hosting participant.
	HostLabel = "Server"
	// DefaultLabel is used when a participant gives no name.
	DefaultLabel = "Client"
)

// FormatMessage renders the "<label>: <text>" line participants append.
func FormatMessage(label, text string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultLabel
	}
	return label + ": " + text
}

// Names are the paths of the three objects backing one ring.
type Names struct {
	Mem   string
	Lock  string
	Event string
}

// NamesFor derives the object paths for ring name under dir. An empty dir
// means DefaultDir().
func NamesFor(dir, name string) Names {
	if dir == "" {
		dir = DefaultDir()
	}
	base := filepath.Join(dir, name)
	return Names{
		Mem:   base + ".mem",
		Lock:  base + ".lock",
		Event: base + ".event",
	}
}

// DefaultDir is /dev/shm when the host has it, the temp dir otherwise.
func DefaultDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

func slotOffset(seq uint64) int {
	return headerSize + int(seq%Slots)*SlotSize
}

// truncate cuts s to at most MaxText bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= MaxText {
		return s
	}
	cut := MaxText
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func encodeSlot(dst []byte, text string) {
	n := copy(dst[:MaxText], truncate(text))
	dst[n] = 0
}

func decodeSlot(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}
