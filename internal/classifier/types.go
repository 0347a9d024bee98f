package classifier

import "fmt"

// Label is the predicted lesion class. Its integer value is the model's
// class index.
type Label int

const (
	Benign Label = iota
	Malignant
)

var labelNames = [...]string{"Benign", "Malignant"}

// LabelFromIndex maps a model class index to a Label.
func LabelFromIndex(i int) (Label, bool) {
	if i < 0 || i >= len(labelNames) {
		return 0, false
	}
	return Label(i), true
}

func (l Label) String() string {
	if l < 0 || int(l) >= len(labelNames) {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return labelNames[l]
}

// Description is the human-readable verdict shown in the UI.
func (l Label) Description() string {
	switch l {
	case Benign:
		return "Benign (Non-cancerous)"
	case Malignant:
		return "Malignant (Cancerous)"
	default:
		return l.String()
	}
}

func (l Label) MarshalText() ([]byte, error) {
	if _, ok := LabelFromIndex(int(l)); !ok {
		return nil, fmt.Errorf("unknown label %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Label) UnmarshalText(text []byte) error {
	for i, name := range labelNames {
		if name == string(text) {
			*l = Label(i)
			return nil
		}
	}
	return fmt.Errorf("unknown label %q", text)
}

// Result is a memoized classification.
type Result struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Prediction is a Result plus how it was served.
type Prediction struct {
	Result
	Fingerprint string
	Cached      bool
}

// CacheStats describes the in-process result cache.
type CacheStats struct {
	Entries  int `json:"entries"`
	Capacity int `json:"capacity"`
}
