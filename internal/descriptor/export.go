package descriptor

import (
	"encoding/json"
	"fmt"
)

// Export is the annotation download format: every image's shape list as
// descriptors in one axis convention.
type Export struct {
	Axis   Axis                    `json:"axis"`
	Images map[string][]Descriptor `json:"images"`
}

// EncodeExport writes e as indented JSON. Image ids are emitted in sorted order.
func EncodeExport(e Export) ([]byte, error) {
	if e.Images == nil {
		e.Images = map[string][]Descriptor{}
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("descriptor: encode export: %w", err)
	}
	return data, nil
}

// DecodeExport parses an annotation export. A missing axis means trace.
func DecodeExport(data []byte) (Export, error) {
	var e Export
	if err := json.Unmarshal(data, &e); err != nil {
		return Export{}, fmt.Errorf("descriptor: decode export: %w", err)
	}
	axis, err := ParseAxis(string(e.Axis), AxisTrace)
	if err != nil {
		return Export{}, err
	}
	e.Axis = axis
	return e, nil
}
