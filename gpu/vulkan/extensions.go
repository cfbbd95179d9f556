package vulkan

import (
	"strings"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

// InstanceExtensions lists the instance extensions the loader offers.
func InstanceExtensions(log *slog.Logger) ([]string, error) {
	return enumerate(log, "instance extensions", func(count *uint32, out []vk.ExtensionProperties) vk.Result {
		return vk.EnumerateInstanceExtensionProperties("", count, out)
	}, extensionName)
}

// DeviceExtensions lists the extensions a physical device offers.
func DeviceExtensions(log *slog.Logger, gpu vk.PhysicalDevice) ([]string, error) {
	return enumerate(log, "device extensions", func(count *uint32, out []vk.ExtensionProperties) vk.Result {
		return vk.EnumerateDeviceExtensionProperties(gpu, "", count, out)
	}, extensionName)
}

// ValidationLayers lists the instance layers the loader offers.
func ValidationLayers(log *slog.Logger) ([]string, error) {
	return enumerate(log, "layers", func(count *uint32, out []vk.LayerProperties) vk.Result {
		return vk.EnumerateInstanceLayerProperties(count, out)
	}, layerName)
}

func extensionName(p *vk.ExtensionProperties) string {
	p.Deref()
	return vk.ToString(p.ExtensionName[:])
}

func layerName(p *vk.LayerProperties) string {
	p.Deref()
	return vk.ToString(p.LayerName[:])
}

// enumerate runs a count-then-fill driver query and names every entry. Incomplete results keep
// what was filled. Failures are logged and returned.
func enumerate[T any](log *slog.Logger, what string, query func(count *uint32, out []T) vk.Result, name func(*T) string) ([]string, error) {
	failed := func(ret vk.Result) error {
		err := errors.Wrapf(newError(ret), "enumerate %s", what)
		orDiscard(log).Error("driver query failed", slog.String("query", what), slog.Any("error", err))
		return err
	}
	var count uint32
	if ret := query(&count, nil); isError(ret) && ret != vk.Incomplete {
		return nil, failed(ret)
	}
	if count == 0 {
		return nil, nil
	}
	list := make([]T, count)
	if ret := query(&count, list); isError(ret) && ret != vk.Incomplete {
		return nil, failed(ret)
	}
	if int(count) > len(list) {
		count = uint32(len(list))
	}
	names := make([]string, 0, count)
	for i := range list[:count] {
		names = append(names, name(&list[i]))
	}
	return names, nil
}

// extensionSet is a list of names some of which must be present and some of which are enabled
// only when the driver offers them.
type extensionSet struct {
	kind     string
	required []string
	wanted   []string
}

// resolve picks the names to enable from actual. A missing required name is an error; missing
// wanted names are returned so the caller can log them.
func (e extensionSet) resolve(actual []string) (enabled, missing []string, err error) {
	have := make(map[string]bool, len(actual))
	for _, name := range actual {
		have[name] = true
	}
	seen := make(map[string]bool, len(e.required)+len(e.wanted))
	var absent []string
	for _, name := range e.required {
		if seen[name] {
			continue
		}
		seen[name] = true
		if !have[name] {
			absent = append(absent, name)
			continue
		}
		enabled = append(enabled, name)
	}
	if len(absent) > 0 {
		return nil, nil, errors.Newf("vulkan: missing required %s: %s", e.kind, strings.Join(absent, ", "))
	}
	for _, name := range e.wanted {
		if seen[name] {
			continue
		}
		seen[name] = true
		if !have[name] {
			missing = append(missing, name)
			continue
		}
		enabled = append(enabled, name)
	}
	return enabled, missing, nil
}

func safeString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}
