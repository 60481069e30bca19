// Package classifier assigns a device category, type and condition to an
// uploaded photo.
//
// StubClassifier is a placeholder: it performs no computer vision and ignores
// the image entirely. It draws every field at random from a fixed catalogue so
// the rest of the pipeline can run end to end until a real model is plugged in
// behind the Classifier interface.
package classifier

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ecosort/apiserver/types"
)

// Classifier classifies a device photo.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (types.Classification, error)
}

// Category is one entry of the device catalogue.
type Category struct {
	Name       string
	Types      []string
	Components string
}

// Catalogue lists the device categories the stub can report.
var Catalogue = []Category{
	{
		Name:       "Smartphone",
		Types:      []string{"iPhone", "Samsung Galaxy", "Google Pixel", "Xiaomi", "Huawei", "OnePlus", "Generic Smartphone"},
		Components: "Battery, Display, PCB, Camera, Speakers, Microphone",
	},
	{
		Name:       "Laptop",
		Types:      []string{"MacBook", "Dell XPS", "HP Spectre", "Lenovo ThinkPad", "Asus ZenBook", "Generic Laptop"},
		Components: "Battery, Display, PCB, Keyboard, Trackpad, Speakers, Hard Drive, RAM, CPU",
	},
	{
		Name:       "Desktop",
		Types:      []string{"Mac Mini", "Dell Optiplex", "HP Pavilion", "Custom PC", "Generic Desktop"},
		Components: "Motherboard, CPU, RAM, Power Supply, Hard Drive, Graphics Card, Cooling System",
	},
	{
		Name:       "Tablet",
		Types:      []string{"iPad", "Samsung Tab", "Microsoft Surface", "Amazon Fire", "Generic Tablet"},
		Components: "Battery, Display, PCB, Touch Controller, Camera",
	},
	{
		Name:       "TV/Monitor",
		Types:      []string{"Samsung TV", "LG TV", "Sony TV", "Dell Monitor", "Generic Display"},
		Components: "LCD/LED Panel, Power Board, Main Board, Speakers",
	},
	{
		Name:       "Camera",
		Types:      []string{"Canon DSLR", "Nikon", "Sony Alpha", "GoPro", "Generic Camera"},
		Components: "Sensor, Lens, Battery, PCB, Display",
	},
	{
		Name:       "Wearable",
		Types:      []string{"Apple Watch", "Fitbit", "Samsung Galaxy Watch", "Generic Smartwatch"},
		Components: "Battery, Display, Sensors, PCB",
	},
	{
		Name:       "Audio Device",
		Types:      []string{"Headphones", "Speakers", "Earbuds", "Soundbar", "Generic Audio Device"},
		Components: "Drivers, Battery (if wireless), PCB, Enclosure",
	},
}

// Confidence and recyclable share are drawn from half-open ranges [min, max).
const (
	MinConfidence = 60
	MaxConfidence = 98
	MinRecyclable = 70
	MaxRecyclable = 90
)

// DefaultDelay simulates model latency.
const DefaultDelay = time.Second

// StubClassifier returns random classifications drawn from Catalogue.
type StubClassifier struct {
	delay time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a StubClassifier.
type Option func(*StubClassifier)

// WithDelay overrides the simulated processing latency. Zero disables it.
func WithDelay(d time.Duration) Option {
	return func(c *StubClassifier) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithRand sets the random source, mainly for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(c *StubClassifier) {
		if rng != nil {
			c.rng = rng
		}
	}
}

// NewStubClassifier constructs a StubClassifier with the provided options.
func NewStubClassifier(opts ...Option) *StubClassifier {
	c := &StubClassifier{
		delay: DefaultDelay,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify waits for the configured delay and returns a random classification.
// The only error is ctx being done before the delay elapses.
func (c *StubClassifier) Classify(ctx context.Context, _ []byte) (types.Classification, error) {
	if c.delay > 0 {
		timer := time.NewTimer(c.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return types.Classification{}, ctx.Err()
		case <-timer.C:
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	category := Catalogue[c.rng.IntN(len(Catalogue))]
	return types.Classification{
		DeviceType:     category.Types[c.rng.IntN(len(category.Types))],
		DeviceCategory: category.Name,
		Condition:      types.Conditions[c.rng.IntN(len(types.Conditions))],
		Confidence:     MinConfidence + c.rng.IntN(MaxConfidence-MinConfidence),
		Components:     category.Components,
		Recyclable:     fmt.Sprintf("%d%% Recyclable", MinRecyclable+c.rng.IntN(MaxRecyclable-MinRecyclable)),
	}, nil
}

// CategoryByName looks up a catalogue entry.
func CategoryByName(name string) (Category, bool) {
	for _, category := range Catalogue {
		if category.Name == name {
			return category, true
		}
	}
	return Category{}, false
}
