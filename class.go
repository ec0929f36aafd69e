package hbm

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
)

// Description expresses caller intent for a buffer object. A Description
// with FormatInvalid describes a linear buffer; any other format describes
// an image. Descriptions are plain values and never mutated by the library.
type Description struct {
	Flags    Flags
	Format   Format
	Modifier Modifier
}

func (d Description) isValid() bool {
	if d.isBuffer() {
		// buffers carry no tiling, so the modifier must stay invalid
		return d.Modifier.isInvalid()
	}
	return true
}

func (d Description) isBuffer() bool {
	return d.Format.isInvalid()
}

// UsageKind identifies which backend vocabulary a Usage's bits belong to.
type UsageKind int32

const (
	// UsageUnused marks a backend slot that does not participate in a
	// classification.
	UsageUnused UsageKind = iota
	// UsageDisplay carries display-subsystem usage bits (overlay, cursor).
	UsageDisplay
	// UsageGraphics carries graphics/compute-API usage bits (transfer,
	// uniform, storage, sampled, color).
	UsageGraphics
)

// UsageFlags are backend-vocabulary usage bits. Their meaning is defined by
// the backend identified by the UsageKind they travel with.
type UsageFlags int32

// Usage ties backend-specific usage bits to the backend vocabulary they
// belong to. One Usage value corresponds to one backend slot in a Device's
// ordered backend list.
type Usage struct {
	Kind UsageKind
	Bits UsageFlags
}

// Constraint restricts the physical layouts acceptable to a caller or
// backend. Zero alignments mean "no requirement" and behave as 1. An empty
// Modifiers slice allows every modifier.
type Constraint struct {
	OffsetAlign int
	StrideAlign int
	SizeAlign   int

	Modifiers []Modifier
}

func normalizeAlign(align int) int {
	if align < 1 {
		return 1
	}
	return align
}

// alignments unpacks the three alignment values, treating a nil constraint
// and zero alignments as 1.
func (c *Constraint) alignments() (offsetAlign, strideAlign, sizeAlign int) {
	if c == nil {
		return 1, 1, 1
	}
	return normalizeAlign(c.OffsetAlign), normalizeAlign(c.StrideAlign), normalizeAlign(c.SizeAlign)
}

func mergeAlign(into, other int) int {
	into = normalizeAlign(into)
	other = normalizeAlign(other)
	if into >= other {
		return into
	}
	if other%into != 0 {
		panic(fmt.Sprintf("attempting to merge constraint alignments %d and %d that are not exact multiples", into, other))
	}
	return other
}

// merge folds other into c. The larger of each alignment wins, and it must
// be an exact multiple of the smaller; anything else is a backend contract
// violation and panics. At most one side may carry a modifier allowlist.
func (c *Constraint) merge(other *Constraint) {
	c.OffsetAlign = mergeAlign(c.OffsetAlign, other.OffsetAlign)
	c.StrideAlign = mergeAlign(c.StrideAlign, other.StrideAlign)
	c.SizeAlign = mergeAlign(c.SizeAlign, other.SizeAlign)

	if len(other.Modifiers) != 0 {
		if len(c.Modifiers) != 0 {
			panic("attempting to merge two constraints that both carry modifier allowlists")
		}
		c.Modifiers = other.Modifiers
	}
}

// Layout is the physical description of a concrete buffer: total size,
// modifier, and per-plane offsets and strides.
type Layout struct {
	Size       int
	Modifier   Modifier
	PlaneCount int
	Offsets    [4]int
	Strides    [4]int
}

// packedLayout computes the minimal linear layout for an extent of the
// class's kind, honoring an optional constraint. For a buffer this is the
// size rounded up to the size alignment; for an image it is the per-plane
// walk of the format's block layout table.
func packedLayout(class *Class, extent Extent, con *Constraint) (Layout, error) {
	if class.isBuffer() {
		_, _, sizeAlign := con.alignments()
		return Layout{Size: nextMultiple(extent.Size(), sizeAlign)}, nil
	}

	linear := false
	for _, m := range class.modifiers {
		if m.isLinear() {
			linear = true
			break
		}
	}
	if !linear {
		return Layout{}, errors.Wrap(ErrInvalidParam, "class does not support the linear modifier")
	}

	return packedImageLayout(class.format, extent.Width(), extent.Height(), con)
}

// fit reports whether the layout satisfies the constraint: every plane
// offset and stride is a multiple of the respective alignment, and every
// plane's effective extent (the distance to the next plane by ascending
// offset, or to the total size for the last plane) is at least the size
// alignment. The size check is "large enough", not a strict multiple.
func (l *Layout) fit(con *Constraint) bool {
	if con == nil {
		return true
	}

	if con.OffsetAlign > 1 {
		for plane := 0; plane < l.PlaneCount; plane++ {
			if l.Offsets[plane]%con.OffsetAlign != 0 {
				return false
			}
		}
	}

	if con.StrideAlign > 1 {
		for plane := 0; plane < l.PlaneCount; plane++ {
			if l.Strides[plane]%con.StrideAlign != 0 {
				return false
			}
		}
	}

	if con.SizeAlign > 1 {
		count := l.PlaneCount

		sorted := l.Offsets
		sort.Ints(sorted[:count])
		for plane := 0; plane < count; plane++ {
			nextOffset := l.Size
			if plane < count-1 {
				nextOffset = sorted[plane+1]
			}

			if nextOffset-sorted[plane] < con.SizeAlign {
				return false
			}
		}
	}

	return true
}

// ClassInfo is the Class fragment a backend reports from Classify: its
// limits for the described buffer.
type ClassInfo struct {
	// MaxExtent is the largest extent the backend can service.
	MaxExtent Extent
	// Modifiers are the modifiers the backend supports for an image
	// description. Ignored for buffers.
	Modifiers []Modifier
	// Constraint optionally restricts acceptable layouts.
	Constraint *Constraint
	// UnknownConstraint marks a backend that cannot express its layout
	// requirements as a Constraint and must dictate the physical layout
	// itself. At most one backend per classification may set this.
	UnknownConstraint bool
}

// Class is the validated, immutable descriptor produced by Device.Classify.
// It is safe to share across goroutines and across many Bo constructions.
// Callers are expected to cache Classes by (Description, Usage) pair; the
// library does not.
type Class struct {
	flags  Flags
	format Format
	usage  Usage

	maxExtent         Extent
	modifiers         []Modifier
	constraint        *Constraint
	unknownConstraint bool

	backendIndex int
}

// NewClass builds a Class fragment from a backend's reported limits.
// Backends call this from Classify; the owning Device fills in the backend
// index.
func NewClass(desc Description, usage Usage, info ClassInfo) *Class {
	return &Class{
		flags:             desc.Flags,
		format:            desc.Format,
		usage:             usage,
		maxExtent:         info.MaxExtent,
		modifiers:         info.Modifiers,
		constraint:        info.Constraint,
		unknownConstraint: info.UnknownConstraint,
	}
}

func (c *Class) isBuffer() bool {
	return c.format.isInvalid()
}

// Format returns the format the class was negotiated for.
func (c *Class) Format() Format {
	return c.format
}

// Flags returns the flags the class was negotiated for.
func (c *Class) Flags() Flags {
	return c.flags
}

// MaxExtent returns the merged maximum extent across the contributing
// backends.
func (c *Class) MaxExtent() Extent {
	return c.maxExtent
}

// validate checks that a requested extent lies within the class limits:
// 1 <= size <= max for buffers, 1 <= width/height <= max for images.
func (c *Class) validate(extent Extent) bool {
	if c.isBuffer() {
		size := extent.Size()
		return size >= 1 && size <= c.maxExtent.Size()
	}

	width := extent.Width()
	height := extent.Height()
	return width >= 1 && width <= c.maxExtent.Width() &&
		height >= 1 && height <= c.maxExtent.Height()
}
