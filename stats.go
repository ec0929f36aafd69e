package hbm

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsString dumps the device configuration as a JSON string, for
// logging and bug reports.
func (d *Device) BuildStatsString() string {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	obj.Name("BackendCount").Int(len(d.backends))
	obj.Name("ExternallySynchronized").Bool(!d.useMutex)
	obj.End()

	return string(writer.Bytes())
}

// BuildStatsString dumps the buffer object's configuration, physical
// layout, and lifecycle state as a JSON string, for logging and bug
// reports.
func (b *Bo) BuildStatsString() string {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	b.printParameters(&obj)
	obj.End()

	return string(writer.Bytes())
}

func (b *Bo) printParameters(json *jwriter.ObjectState) {
	json.Name("Flags").String(b.flags.String())
	json.Name("BackendIndex").Int(b.backendIndex)

	if b.isBuffer() {
		json.Name("Size").Int(b.extent.Size())
	} else {
		json.Name("Format").String(b.format.String())
		json.Name("Width").Int(b.extent.Width())
		json.Name("Height").Int(b.extent.Height())
	}

	layout := b.Layout()
	layoutObj := json.Name("Layout").Object()
	layoutObj.Name("Size").Int(layout.Size)
	layoutObj.Name("Modifier").String(layout.Modifier.String())
	layoutObj.Name("PlaneCount").Int(layout.PlaneCount)
	offsets := layoutObj.Name("Offsets").Array()
	for plane := 0; plane < layout.PlaneCount; plane++ {
		offsets.Int(layout.Offsets[plane])
	}
	offsets.End()
	strides := layoutObj.Name("Strides").Array()
	for plane := 0; plane < layout.PlaneCount; plane++ {
		strides.Int(layout.Strides[plane])
	}
	strides.End()
	layoutObj.End()

	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	stateObj := json.Name("State").Object()
	stateObj.Name("Bound").Bool(b.state.bound)
	if b.state.bound {
		stateObj.Name("MemoryType").String(b.state.mt.String())
	}
	stateObj.Name("MapCount").Int(b.state.mapCount)
	stateObj.End()
}
