package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Layout names the memory order of the model's input tensor.
const (
	LayoutNHWC = "NHWC"
	LayoutNCHW = "NCHW"
)

// Metadata describes the exported model. It is read from a JSON file that
// sits next to the .onnx artifact.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
	Layout      string   `json:"layout,omitempty"`
}

// DefaultMetadata matches the DermAI Keras export converted to ONNX.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  []int64{1, 224, 224, 3},
		OutputShape: []int64{1, 2},
		Classes:     []string{"Benign", "Malignant"},
		ImageSize:   224,
		InputName:   "input",
		OutputName:  "output",
		Layout:      LayoutNHWC,
	}
}

// LoadMetadata reads the metadata file at path. A missing file (or an empty
// path) yields DefaultMetadata; fields absent from the file are defaulted.
func LoadMetadata(path string) (Metadata, error) {
	if path == "" {
		return DefaultMetadata(), nil
	}
	raw, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultMetadata(), nil
		}
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	meta.applyDefaults()
	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m *Metadata) applyDefaults() {
	def := DefaultMetadata()
	m.Layout = strings.ToUpper(m.Layout)
	if m.Layout == "" {
		m.Layout = def.Layout
	}
	if m.ImageSize <= 0 {
		m.ImageSize = def.ImageSize
	}
	if len(m.InputShape) == 0 {
		s := int64(m.ImageSize)
		if m.Layout == LayoutNCHW {
			m.InputShape = []int64{1, 3, s, s}
		} else {
			m.InputShape = []int64{1, s, s, 3}
		}
	}
	if len(m.Classes) == 0 {
		m.Classes = def.Classes
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(len(m.Classes))}
	}
	if m.InputName == "" {
		m.InputName = def.InputName
	}
	if m.OutputName == "" {
		m.OutputName = def.OutputName
	}
}

// Validate checks that the shapes agree with the image size, layout and
// class list. Scores are read as [benign, malignant], so the class list must
// name exactly those two in that order.
func (m Metadata) Validate() error {
	want := DefaultMetadata().Classes
	if len(m.Classes) != len(want) {
		return fmt.Errorf("classes %v must be %v", m.Classes, want)
	}
	for i, c := range m.Classes {
		if !strings.EqualFold(strings.TrimSpace(c), want[i]) {
			return fmt.Errorf("classes %v must be %v", m.Classes, want)
		}
	}
	if m.Layout != LayoutNHWC && m.Layout != LayoutNCHW {
		return fmt.Errorf("unsupported layout %q: use %s or %s", m.Layout, LayoutNHWC, LayoutNCHW)
	}
	if want, got := int64(3*m.ImageSize*m.ImageSize), shapeSize(m.InputShape); want != got {
		return fmt.Errorf("input shape %v does not hold a %dx%d RGB image", m.InputShape, m.ImageSize, m.ImageSize)
	}
	if got := shapeSize(m.OutputShape); got != int64(len(m.Classes)) {
		return fmt.Errorf("output shape %v does not match %d classes", m.OutputShape, len(m.Classes))
	}
	return nil
}

// InputSize is the number of float32 values the model consumes.
func (m Metadata) InputSize() int {
	return int(shapeSize(m.InputShape))
}

func shapeSize(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, dim := range shape {
		n *= dim
	}
	return n
}
