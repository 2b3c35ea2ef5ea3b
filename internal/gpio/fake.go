package gpio

import "fmt"

// FakeReader is a test double that returns scripted pin levels.
type FakeReader struct {
	// Samples contains scripted levels per pin.
	// Each call to ReadDigital(pin) consumes the next level for that pin.
	Samples map[int][]int

	// index tracks current position per pin
	index map[int]int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by ReadDigital()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given per-pin samples.
func NewFakeReader(samples map[int][]int) *FakeReader {
	if samples == nil {
		samples = map[int][]int{}
	}
	return &FakeReader{Samples: samples, index: map[int]int{}}
}

// ReadDigital returns the next scripted level for pin.
// If samples are exhausted, returns the last level repeatedly.
func (f *FakeReader) ReadDigital(pin int) (int, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}

	levels := f.Samples[pin]
	if len(levels) == 0 {
		return 0, fmt.Errorf("no samples configured for pin %d", pin)
	}

	i := f.index[pin]
	if i < len(levels)-1 {
		f.index[pin] = i + 1
	}
	return levels[i], nil
}

// Set replaces the script for pin with a single steady level.
func (f *FakeReader) Set(pin, level int) {
	f.Samples[pin] = []int{level}
	f.index[pin] = 0
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = map[int]int{}
	f.Closed = false
}
