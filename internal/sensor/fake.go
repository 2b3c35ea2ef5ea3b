package sensor

// Fake is a test double for analog channels and the environmental sensor.
type Fake struct {
	// Analog holds the value returned per channel.
	Analog map[int]int

	Humidity    int
	Temperature int

	// ReadError, if set, will be returned by every read.
	ReadError error

	// Reads counts calls to any read method.
	Reads int
}

// NewFake creates a Fake with no analog channels.
func NewFake() *Fake {
	return &Fake{Analog: map[int]int{}}
}

// ReadAnalog returns the configured value for channel.
func (f *Fake) ReadAnalog(channel int) (int, error) {
	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return f.Analog[channel], nil
}

// ReadHumidity returns Humidity.
func (f *Fake) ReadHumidity() (int, error) {
	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return f.Humidity, nil
}

// ReadTemperature returns Temperature.
func (f *Fake) ReadTemperature() (int, error) {
	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return f.Temperature, nil
}
