package hbm

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific device behaviors to activate or deactivate.
type CreateFlags int32

var deviceCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	deviceCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return deviceCreateFlagsMapping.FlagsToString(f)
}

const (
	// DeviceExternallySynchronized ensures that buffer objects created from
	// this device will not be synchronized internally. The consumer must
	// guarantee each Bo is used from only one goroutine at a time or is
	// synchronized by some other mechanism.
	DeviceExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	DeviceExternallySynchronized.Register("DeviceExternallySynchronized")
}

// Device owns an ordered list of backends to interact with the underlying
// subsystems and hardware. A Device is immutable after Build and safe to
// share across goroutines.
type Device struct {
	backends []Backend
	logger   *slog.Logger
	useMutex bool
}

func (d *Device) backend(idx int) Backend {
	return d.backends[idx]
}

// BackendCount returns the number of registered backends.
func (d *Device) BackendCount() int {
	return len(d.backends)
}

// MemoryPlaneCount returns the memory plane count of a format and a
// modifier.
//
// The format plane count is a property of a format alone. The memory plane
// count depends on the modifier as well: for ModLinear the two are equal,
// otherwise the memory plane count is equal or greater.
func (d *Device) MemoryPlaneCount(format Format, modifier Modifier) (int, error) {
	if format.isInvalid() || modifier.isInvalid() {
		return 0, errors.Wrap(ErrInvalidParam, "memory plane counts need a concrete format and modifier")
	}

	for _, backend := range d.backends {
		count, err := backend.MemoryPlaneCount(format, modifier)
		if errors.Is(err, ErrNoSupport) {
			continue
		}
		return count, err
	}

	return 0, errors.Wrapf(ErrNoSupport, "no backend supports format %s with modifier %#x", format, uint64(modifier))
}

// Classify validates a description and usage combination and returns the
// opaque Class for it. usage must hold one entry per registered backend, in
// backend order, with UsageUnused for backends that should not participate.
//
// If the possible description/usage combinations are limited, it is
// suggested to cache the returned Classes to avoid repeated validation.
func (d *Device) Classify(desc Description, usage []Usage) (*Class, error) {
	d.logger.Debug("Device::Classify")

	if !desc.isValid() {
		return nil, errors.Wrap(ErrInvalidParam, "buffer descriptions must carry the invalid modifier")
	}

	if len(usage) != len(d.backends) {
		return nil, errors.Wrapf(ErrInvalidParam, "%d usage entries supplied for %d backends", len(usage), len(d.backends))
	}

	if len(d.backends) == 1 {
		return d.backends[0].Classify(desc, usage[0])
	}

	return d.multiClassify(desc, usage)
}

// multiClassify calls Classify on every participating backend and folds
// the results: extents intersect, modifier sets intersect, constraints
// merge. No tie-breaking beyond "unknown-constraint backend, else backend
// 0" applies.
func (d *Device) multiClassify(desc Description, usage []Usage) (*Class, error) {
	max := maxExtent(desc.isBuffer())
	var mods []Modifier
	haveMods := false
	var con Constraint
	requiredIdx := -1

	for idx, backend := range d.backends {
		if usage[idx].Kind == UsageUnused {
			continue
		}

		class, err := backend.Classify(desc, usage[idx])
		if err != nil {
			return nil, err
		}

		max.intersect(class.maxExtent)

		if !desc.isBuffer() {
			if haveMods {
				shared := mods[:0]
				for _, m := range mods {
					if slices.Contains(class.modifiers, m) {
						shared = append(shared, m)
					}
				}
				mods = shared
			} else {
				mods = slices.Clone(class.modifiers)
				haveMods = true
			}
		}

		if class.constraint != nil {
			con.merge(class.constraint)
		}

		if class.unknownConstraint {
			if requiredIdx >= 0 {
				return nil, errors.Wrap(ErrNoSupport, "more than one backend requires exact layout knowledge")
			}
			requiredIdx = idx
		}
	}

	if max.isEmpty() {
		return nil, errors.Wrap(ErrNoSupport, "backends share no usable extent")
	}

	if desc.isBuffer() {
		mods = nil
	} else if len(mods) == 0 {
		return nil, errors.Wrap(ErrNoSupport, "backends share no modifier")
	}

	idx := requiredIdx
	if idx < 0 {
		idx = 0
	}

	class := NewClass(desc, usage[idx], ClassInfo{
		MaxExtent:  max,
		Modifiers:  mods,
		Constraint: &con,
	})
	class.backendIndex = idx

	return class, nil
}

// Modifiers returns the supported modifiers of a class, or nil when the
// class offers no modifier support. ModInvalid denotes implicit tiling
// internally and is never surfaced to callers as a real modifier.
func (d *Device) Modifiers(class *Class) []Modifier {
	for _, m := range class.modifiers {
		if m.isInvalid() {
			return nil
		}
	}
	return class.modifiers
}

// DeviceBuilder assembles a Device from an ordered list of backends.
type DeviceBuilder struct {
	backends []Backend
	logger   *slog.Logger
	flags    CreateFlags
}

// NewDeviceBuilder creates a device builder.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{}
}

// AddBackend appends a backend. Backend order is significant: usage slices
// passed to Classify follow it, and it breaks classification ties.
func (b *DeviceBuilder) AddBackend(backend Backend) *DeviceBuilder {
	b.backends = append(b.backends, backend)
	return b
}

// WithLogger sets the logger the device and its buffer objects log through.
func (b *DeviceBuilder) WithLogger(logger *slog.Logger) *DeviceBuilder {
	b.logger = logger
	return b
}

// WithFlags sets device create flags.
func (b *DeviceBuilder) WithFlags(flags CreateFlags) *DeviceBuilder {
	b.flags = flags
	return b
}

// Build creates the Device.
func (b *DeviceBuilder) Build() (*Device, error) {
	if len(b.backends) == 0 {
		return nil, errors.Wrap(ErrInvalidParam, "a device needs at least one backend")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Device{
		backends: b.backends,
		logger:   logger,
		useMutex: b.flags&DeviceExternallySynchronized == 0,
	}, nil
}
