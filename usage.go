package dieselframe

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/andewx/dieselframe/gpu"
)

// Usage keys read by ConfigFromUsage.
const (
	UsageAppName                  = "AppName"
	UsageFrameOverlap             = "FrameOverlap"
	UsageFenceTimeoutMs           = "FenceTimeoutMs"
	UsageDescriptorMaxSets        = "DescriptorMaxSets"
	UsageDescriptorGrowth         = "DescriptorGrowth"
	UsageDescriptorMaxSetsPerPool = "DescriptorMaxSetsPerPool"
	UsageDescriptorMaxPools       = "DescriptorMaxPools"
	UsageWindowWidth              = "WindowWidth"
	UsageWindowHeight             = "WindowHeight"
	UsageValidation               = "Validation"
)

//Defines the engine usage properties as typed property bags. Corresponds to JSON object notation
//and is read into a Config by ConfigFromUsage. Linked usages chain further property sets, for
//example per-technique settings hanging off the engine usage.
type Usage struct {
	Name         string
	String_props map[string]string
	Int_props    map[string]int
	Bool_props   map[string]bool
	Float_props  map[string]float32
	Linked_usage *Usage
}

func NewUsage(name string, default_size uint) *Usage {
	var use Usage
	use.Name = name
	use.String_props = make(map[string]string, default_size)
	use.Int_props = make(map[string]int, default_size)
	use.Bool_props = make(map[string]bool, default_size)
	use.Float_props = make(map[string]float32, default_size)
	return &use
}

func (u *Usage) HasNext() bool {
	return u.Linked_usage != nil
}

func (u *Usage) GetLinkedUsage() (*Usage, error) {
	if !u.HasNext() {
		return nil, errors.Newf("properties %s has no linked usage", u.Name)
	}
	return u.Linked_usage, nil
}

// Find walks the linked chain for the usage called name.
func (u *Usage) Find(name string) (*Usage, bool) {
	for use := u; use != nil; use = use.Linked_usage {
		if use.Name == name {
			return use, true
		}
	}
	return nil, false
}

//Prints usage tree to w, one line per usage in the linked chain
func (u *Usage) Print(w io.Writer) {
	for use := u; use != nil; use = use.Linked_usage {
		fmt.Fprintln(w, use.Name, use.String_props, use.Bool_props, use.Int_props, use.Float_props)
	}
}

// DescriptorLimits bounds how a DescriptorAllocator grows.
type DescriptorLimits struct {
	// Growth multiplies the set count of each new pool. 1 keeps every pool the same size.
	Growth float64
	// MaxSetsPerPool caps the size of a single pool.
	MaxSetsPerPool uint32
	// MaxPools caps how many pools an allocator may own. Exhaustion at the cap is fatal.
	MaxPools int
}

// Config is the engine configuration.
type Config struct {
	AppName      string
	FrameOverlap int
	// FenceTimeout bounds every per-frame and immediate fence wait so a GPU hang surfaces as
	// an error instead of blocking forever.
	FenceTimeout time.Duration
	// DescriptorMaxSets sizes the first pool of every descriptor allocator.
	DescriptorMaxSets uint32
	Descriptors       DescriptorLimits
	WindowExtent      gpu.Extent2D
	DrawFormat        gpu.Format
	Validation        bool
}

func DefaultConfig() Config {
	return Config{
		AppName:           "dieselframe",
		FrameOverlap:      2,
		FenceTimeout:      time.Second,
		DescriptorMaxSets: 1000,
		Descriptors: DescriptorLimits{
			Growth:         1.5,
			MaxSetsPerPool: 4092,
			MaxPools:       64,
		},
		WindowExtent: gpu.Extent2D{Width: 1700, Height: 900},
		DrawFormat:   gpu.FormatR16G16B16A16Sfloat,
	}
}

// Validate checks the invariants the engine relies on.
func (c Config) Validate() error {
	switch {
	case c.FrameOverlap < 1:
		return errors.Newf("frame overlap must be at least 1, got %d", c.FrameOverlap)
	case c.FenceTimeout <= 0:
		return errors.Newf("fence timeout must be positive, got %s", c.FenceTimeout)
	case c.DescriptorMaxSets == 0:
		return errors.New("descriptor max sets must be positive")
	}
	return c.Descriptors.Validate()
}

func (l DescriptorLimits) Validate() error {
	switch {
	case l.Growth < 1 || math.IsNaN(l.Growth) || math.IsInf(l.Growth, 0):
		return errors.Newf("descriptor growth must be a finite factor >= 1, got %v", l.Growth)
	case l.MaxSetsPerPool == 0:
		return errors.New("descriptor max sets per pool must be positive")
	case l.MaxPools < 1:
		return errors.Newf("descriptor max pools must be at least 1, got %d", l.MaxPools)
	}
	return nil
}

// ConfigFromUsage reads the engine keys of use over DefaultConfig and validates the result.
func ConfigFromUsage(use *Usage) (Config, error) {
	cfg := DefaultConfig()
	if use == nil {
		return cfg, nil
	}
	if v, ok := use.String_props[UsageAppName]; ok && v != "" {
		cfg.AppName = v
	}
	if v, ok := use.Int_props[UsageFrameOverlap]; ok {
		cfg.FrameOverlap = v
	}
	if v, ok := use.Int_props[UsageFenceTimeoutMs]; ok {
		cfg.FenceTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := use.Int_props[UsageDescriptorMaxSets]; ok {
		if v <= 0 {
			return cfg, errors.Newf("%s must be positive, got %d", UsageDescriptorMaxSets, v)
		}
		cfg.DescriptorMaxSets = uint32(v)
	}
	if v, ok := use.Float_props[UsageDescriptorGrowth]; ok {
		cfg.Descriptors.Growth = float64(v)
	}
	if v, ok := use.Int_props[UsageDescriptorMaxSetsPerPool]; ok {
		if v <= 0 {
			return cfg, errors.Newf("%s must be positive, got %d", UsageDescriptorMaxSetsPerPool, v)
		}
		cfg.Descriptors.MaxSetsPerPool = uint32(v)
	}
	if v, ok := use.Int_props[UsageDescriptorMaxPools]; ok {
		cfg.Descriptors.MaxPools = v
	}
	if v, ok := use.Int_props[UsageWindowWidth]; ok && v > 0 {
		cfg.WindowExtent.Width = uint32(v)
	}
	if v, ok := use.Int_props[UsageWindowHeight]; ok && v > 0 {
		cfg.WindowExtent.Height = uint32(v)
	}
	if v, ok := use.Bool_props[UsageValidation]; ok {
		cfg.Validation = v
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "usage %s", use.Name)
	}
	return cfg, nil
}
