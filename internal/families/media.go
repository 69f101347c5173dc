package families

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/patch"
	"fingerprint-shield/internal/prng"
	"fingerprint-shield/internal/realm"
	"fingerprint-shield/internal/stealth"
	"fingerprint-shield/internal/storage"
)

const maxDevicesPerKind = 4

// Device is one enumerated media device.
type Device struct {
	DeviceID string `json:"deviceId"`
	Kind     string `json:"kind"`
	Label    string `json:"label"`
	GroupID  string `json:"groupId"`
}

var kindWeights = []noise.Weighted[string]{
	{Value: "audioinput", Weight: 0.5},
	{Value: "videoinput", Weight: 0.35},
	{Value: "audiooutput", Weight: 0.15},
}

var labelPools = map[string]map[string][]string{
	"audioinput": {
		"windows": {"Microphone (Realtek(R) Audio)", "Microphone Array (Realtek(R) Audio)", "USB Microphone", "Stereo Mix", "Virtual Audio Device"},
		"macos":   {"MacBook Microphone", "Internal Microphone", "USB Audio Device", "Aggregate Device"},
		"linux":   {"Built-in Audio Analog Stereo", "USB Audio", "PulseAudio Sound Server", "ALSA: USB Audio"},
		"android": {"Internal Microphone", "External Mic", "USB Microphone"},
		"ios":     {"iPhone Microphone", "Internal Microphone"},
		"unknown": {"Internal Microphone", "External Microphone"},
	},
	"videoinput": {
		"windows": {"Integrated Webcam", "HD Webcam", "USB Camera", "Logitech HD Webcam C270", "Microsoft LifeCam"},
		"macos":   {"FaceTime HD Camera", "Built-in iSight", "USB Camera"},
		"linux":   {"Webcam", "USB Camera", "UVC Camera"},
		"android": {"Front Camera", "Back Camera"},
		"ios":     {"Front Camera", "Back Camera"},
		"unknown": {"Integrated Webcam", "USB Camera"},
	},
	"audiooutput": {
		"windows": {"Speakers (Realtek(R) Audio)", "Headphones", "HDMI Output", "USB Audio Device"},
		"macos":   {"Internal Speakers", "Headphones", "AirPlay Output"},
		"linux":   {"Built-in Audio Analog Stereo", "HDMI / DisplayPort Output", "USB Audio"},
		"android": {"Phone Speaker", "Bluetooth Headphones"},
		"ios":     {"iPhone Speaker", "AirPods"},
		"unknown": {"Internal Speaker", "External Headphones"},
	},
}

// DetectOS classifies a navigator.platform value for label selection.
func DetectOS(platform string) string {
	l := strings.ToLower(platform)
	switch {
	case strings.Contains(l, "iphone"), strings.Contains(l, "ipad"), strings.Contains(l, "ipod"):
		return "ios"
	case strings.Contains(l, "mac"):
		return "macos"
	case strings.Contains(l, "win"):
		return "windows"
	case strings.Contains(l, "android"), strings.Contains(l, "armv"):
		return "android"
	case strings.Contains(l, "linux"), strings.Contains(l, "x11"):
		return "linux"
	}
	return "unknown"
}

// deviceID renders 64 hex digits, the shape browsers use.
func deviceID(g prng.Generator) string {
	r := prng.Reader(g)
	a, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return ""
	}
	b, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(a.String()+b.String(), "-", "")
}

func deviceLabel(g prng.Generator, kind, os string, id string) string {
	pool := labelPools[kind][os]
	if len(pool) == 0 {
		pool = labelPools[kind]["unknown"]
	}
	label := noise.Pick(g, pool, "")
	if g.Float64() < 0.12 && len(id) >= 3 {
		label += " (" + strings.ToUpper(id[:3]) + ")"
	}
	if kind == "audioinput" && g.Float64() < 0.03 {
		label += " (Plug-in)"
	}
	return label
}

// GenerateDevices builds a plausible device list. Every list has at least
// one microphone. Input labels are blank unless labels is set, as they are
// before the page is granted media permission.
func GenerateDevices(g prng.Generator, os string, labels bool) []Device {
	var devices []Device
	groups := make(map[int]string)
	group := func() string {
		m := prng.Intn(g, 6)
		if _, ok := groups[m]; !ok {
			groups[m] = deviceID(g)
		}
		return groups[m]
	}

	for _, kw := range kindWeights {
		count := 0
		if g.Float64() < kw.Weight {
			count = 1 + prng.Intn(g, maxDevicesPerKind)
		} else if g.Float64() < 0.12 {
			count = 1
		}
		for i := 0; i < count; i++ {
			d := Device{DeviceID: deviceID(g), Kind: kw.Value, GroupID: group()}
			if labels || kw.Value == "audiooutput" {
				d.Label = deviceLabel(g, kw.Value, os, d.DeviceID)
			}
			devices = append(devices, d)
		}
	}

	if !hasKind(devices, "audioinput") {
		d := Device{DeviceID: deviceID(g), Kind: "audioinput", GroupID: deviceID(g)}
		if labels {
			d.Label = deviceLabel(g, "audioinput", os, d.DeviceID)
		}
		devices = append(devices, d)
	}

	rank := map[string]int{"audioinput": 0, "videoinput": 1, "audiooutput": 2}
	sort.SliceStable(devices, func(i, j int) bool { return rank[devices[i].Kind] < rank[devices[j].Kind] })
	return devices
}

func hasKind(devices []Device, kind string) bool {
	for _, d := range devices {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// enumerationDelay mimics device probing: a Gaussian base plus rare lags.
func enumerationDelay(d stealth.Delay, g prng.Generator) time.Duration {
	delay := d.Sample(g)
	if g.Float64() < 0.02 {
		delay += d.Between(g, 20*time.Millisecond, 160*time.Millisecond)
	}
	if g.Float64() < 0.01 {
		delay += d.Between(g, 350*time.Millisecond, d.Cap)
	}
	return d.Bound(delay)
}

// MediaDevices serves enumerateDevices from a persisted, seed-stable list
// after a human-like delay.
type MediaDevices struct {
	// Labels reports input labels as if permission had been granted.
	Labels bool
}

func (MediaDevices) Name() string { return "mediaDevices" }

func (MediaDevices) Enabled(f config.FamiliesConfig) bool { return f.MediaDevices }

func (m MediaDevices) Patches(r *realm.Realm) []patch.Descriptor {
	failP := r.Config().Noise.Drift.DeviceErrorP

	enumerate := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		// the host's own list is discarded, but its receiver checks still apply
		invoke(r, original, c.This, c.Arguments...)

		state := r.Pool().Acquire()
		gen := state.Derive("enumerateDevices", r.NextCall())
		failure := noise.MaybeFail(gen, failP, "NotReadableError", "Could not start audio source")
		delay := enumerationDelay(r.Delay(), gen)

		return r.ResolveAfter(delay, func() (any, error) {
			if failure != nil {
				r.Metrics().SimulatedFailures.WithLabelValues("mediaDevices").Inc()
				return nil, failure
			}
			return m.toJS(r, m.load(r, state.Derive("media-devices"))), nil
		})
	})

	return []patch.Descriptor{{
		Target:  prototype(r, "MediaDevices"),
		Member:  "enumerateDevices",
		Factory: enumerate,
	}}
}

// SnapshotKey is where an origin's device list is persisted.
func SnapshotKey(origin string) string {
	return "media-devices::" + origin
}

func (m MediaDevices) load(r *realm.Realm, g prng.Generator) []Device {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := SnapshotKey(r.Origin())
	var devices []Device
	err := r.Store().Get(ctx, key, &devices)
	if err == nil {
		return devices
	}
	if !errors.Is(err, storage.ErrNotFound) {
		r.Logger().Debug("Device snapshot unreadable", "error", err)
	}

	devices = GenerateDevices(g, DetectOS(hostPlatform(r)), m.Labels)
	if err := r.Store().Set(ctx, key, devices); err != nil {
		r.Logger().Debug("Device snapshot not saved", "error", err)
	}
	return devices
}

// hostPlatform reads navigator.platform through whatever getter is installed.
func hostPlatform(r *realm.Realm) string {
	nav := global(r, "navigator")
	if nav == nil {
		return ""
	}
	v := nav.Get("platform")
	if v == nil || goja.IsUndefined(v) {
		return ""
	}
	return v.String()
}

func (MediaDevices) toJS(r *realm.Realm, devices []Device) goja.Value {
	vm := r.VM()
	items := make([]any, 0, len(devices))
	for _, d := range devices {
		obj := vm.NewObject()
		for _, kv := range [][2]string{
			{"deviceId", d.DeviceID},
			{"kind", d.Kind},
			{"label", d.Label},
			{"groupId", d.GroupID},
		} {
			_ = obj.DefineDataProperty(kv[0], vm.ToValue(kv[1]), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
		}
		items = append(items, obj)
	}
	return vm.NewArray(items...)
}
