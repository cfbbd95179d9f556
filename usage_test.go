package dieselframe

import (
	"bytes"
	"testing"
	"time"

	"github.com/andewx/dieselframe/gpu"
)

func TestConfigFromUsageDefaults(t *testing.T) {
	cfg, err := ConfigFromUsage(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("nil usage gave %+v", cfg)
	}
	if cfg.FrameOverlap != 2 {
		t.Fatalf("frame overlap %d, want 2", cfg.FrameOverlap)
	}
}

func TestConfigFromUsageOverrides(t *testing.T) {
	use := NewUsage("Engine", 8)
	use.String_props[UsageAppName] = "demo"
	use.Int_props[UsageFrameOverlap] = 3
	use.Int_props[UsageFenceTimeoutMs] = 250
	use.Int_props[UsageDescriptorMaxSets] = 100
	use.Float_props[UsageDescriptorGrowth] = 1
	use.Int_props[UsageDescriptorMaxPools] = 16
	use.Int_props[UsageWindowWidth] = 640
	use.Int_props[UsageWindowHeight] = 480
	use.Bool_props[UsageValidation] = true

	cfg, err := ConfigFromUsage(use)
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultConfig()
	want.AppName = "demo"
	want.FrameOverlap = 3
	want.FenceTimeout = 250 * time.Millisecond
	want.DescriptorMaxSets = 100
	want.Descriptors.Growth = 1
	want.Descriptors.MaxPools = 16
	want.WindowExtent = gpu.Extent2D{Width: 640, Height: 480}
	want.Validation = true
	if cfg != want {
		t.Fatalf("config %+v, want %+v", cfg, want)
	}
}

func TestConfigFromUsageRejects(t *testing.T) {
	for name, set := range map[string]func(*Usage){
		"no frames":       func(u *Usage) { u.Int_props[UsageFrameOverlap] = 0 },
		"no timeout":      func(u *Usage) { u.Int_props[UsageFenceTimeoutMs] = 0 },
		"shrinking pools": func(u *Usage) { u.Float_props[UsageDescriptorGrowth] = 0.5 },
		"no pools":        func(u *Usage) { u.Int_props[UsageDescriptorMaxPools] = 0 },
		"negative sets":   func(u *Usage) { u.Int_props[UsageDescriptorMaxSets] = -1 },
		"zero pool size":  func(u *Usage) { u.Int_props[UsageDescriptorMaxSetsPerPool] = 0 },
	} {
		use := NewUsage("Engine", 1)
		set(use)
		if _, err := ConfigFromUsage(use); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestUsageLinkedChain(t *testing.T) {
	root := NewUsage("Engine", 1)
	if root.HasNext() {
		t.Fatalf("fresh usage has a link")
	}
	if _, err := root.GetLinkedUsage(); err == nil {
		t.Fatalf("GetLinkedUsage on unlinked usage succeeded")
	}
	bg := NewUsage("Background", 1)
	root.Linked_usage = bg

	next, err := root.GetLinkedUsage()
	if err != nil || next != bg {
		t.Fatalf("GetLinkedUsage = %v, %v", next, err)
	}
	if found, ok := root.Find("Background"); !ok || found != bg {
		t.Fatalf("Find(Background) = %v, %t", found, ok)
	}
	if _, ok := root.Find("Overlay"); ok {
		t.Fatalf("Find(Overlay) found a usage")
	}
}

func TestUsagePrint(t *testing.T) {
	use := NewUsage("engine", 2)
	use.String_props[UsageAppName] = "demo"
	use.Int_props[UsageFrameOverlap] = 3
	use.Bool_props[UsageValidation] = true
	scene := NewUsage("scene", 1)
	scene.Float_props["FovY"] = 60
	use.Linked_usage = scene

	var buf bytes.Buffer
	use.Print(&buf)
	want := "engine map[AppName:demo] map[Validation:true] map[FrameOverlap:3] map[]\n" +
		"scene map[] map[] map[] map[FovY:60]\n"
	if buf.String() != want {
		t.Fatalf("Print wrote\n%s\nwant\n%s", buf.String(), want)
	}
}
