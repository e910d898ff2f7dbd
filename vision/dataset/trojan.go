package dataset

import (
	"fmt"
	"math/rand"
	"strings"
)

// Sample is one dataset entry. Target equals Original for clean samples and
// holds the attacker's class for poisoned ones.
type Sample struct {
	Index    int
	Image    []float64 // CHW
	Original int
	Target   int
}

func (s *Sample) Poisoned() bool {
	return s.Original != s.Target
}

// TrojanDataset is an in-memory image classification split whose samples
// carry both their original and their training label.
type TrojanDataset struct {
	name       string
	shape      []int // [C, H, W]
	classNames []string
	samples    []Sample
}

// New builds a dataset from images in CHW layout and their labels. Every
// sample starts clean.
func New(name string, shape []int, classNames []string, images [][]float64, labels []int) (*TrojanDataset, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("image shape must be [C, H, W], got %v", shape)
	}
	if len(images) != len(labels) {
		return nil, fmt.Errorf("%d images but %d labels", len(images), len(labels))
	}
	size := shape[0] * shape[1] * shape[2]
	d := &TrojanDataset{
		name:       name,
		shape:      append([]int(nil), shape...),
		classNames: classNames,
		samples:    make([]Sample, len(images)),
	}
	for i, img := range images {
		if len(img) != size {
			return nil, fmt.Errorf("image %d has %d values, want %d", i, len(img), size)
		}
		if labels[i] < 0 || labels[i] >= len(classNames) {
			return nil, fmt.Errorf("image %d label %d out of range [0, %d)", i, labels[i], len(classNames))
		}
		d.samples[i] = Sample{Index: i, Image: img, Original: labels[i], Target: labels[i]}
	}
	return d, nil
}

func (d *TrojanDataset) Name() string { return d.name }

// Len returns the number of items in the dataset
func (d *TrojanDataset) Len() int {
	return len(d.samples)
}

// Shape returns the per-sample image shape [C, H, W].
func (d *TrojanDataset) Shape() []int {
	return d.shape
}

// NumClasses returns the number of classes
func (d *TrojanDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names
func (d *TrojanDataset) ClassNames() []string {
	return d.classNames
}

// Sample returns the i-th sample. Static attackers modify it in place.
func (d *TrojanDataset) Sample(i int) (*Sample, error) {
	if i < 0 || i >= len(d.samples) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, len(d.samples))
	}
	return &d.samples[i], nil
}

// PoisonedCount is the number of samples whose target differs from their
// original label.
func (d *TrojanDataset) PoisonedCount() int {
	n := 0
	for i := range d.samples {
		if d.samples[i].Poisoned() {
			n++
		}
	}
	return n
}

// ClassDistribution returns the number of samples per original class
func (d *TrojanDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, s := range d.samples {
		dist[d.classNames[s.Original]]++
	}
	return dist
}

// Split shuffles with rng and splits into train and test sets.
func (d *TrojanDataset) Split(trainRatio float64, rng *rand.Rand) (*TrojanDataset, *TrojanDataset) {
	n := len(d.samples)
	trainSize := int(float64(n) * trainRatio)

	indices := rng.Perm(n)
	return d.Subset(indices[:trainSize]), d.Subset(indices[trainSize:])
}

// Subset creates a dataset holding copies of the selected samples,
// re-indexed from zero.
func (d *TrojanDataset) Subset(indices []int) *TrojanDataset {
	subset := &TrojanDataset{
		name:       d.name,
		shape:      d.shape,
		classNames: d.classNames,
		samples:    make([]Sample, len(indices)),
	}
	for i, idx := range indices {
		s := d.samples[idx]
		s.Index = i
		s.Image = append([]float64(nil), s.Image...)
		subset.samples[i] = s
	}
	return subset
}

// String returns a string representation of the dataset
func (d *TrojanDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %d samples, %d classes, %d poisoned\n",
		d.name, len(d.samples), len(d.classNames), d.PoisonedCount()))
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	for _, className := range d.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", className, dist[className]))
	}
	return sb.String()
}
