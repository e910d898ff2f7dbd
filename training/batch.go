package training

import (
	"fmt"

	"github.com/tsawler/go-trojan/tensor"
)

// Batch is one mini-batch as produced by a DataSource. Rows of Images line up
// with Indices, Original and Target.
type Batch struct {
	Indices  []int
	Images   *tensor.Tensor // [N, C, H, W]
	Original []int
	Target   []int
}

// Poison is the extra set of samples a dynamic attacker generates for a batch.
// The zero value is an empty poison set.
type Poison struct {
	Images   *tensor.Tensor
	Original []int
	Target   []int
}

func (p Poison) Len() int {
	return len(p.Target)
}

func (b *Batch) Len() int {
	return len(b.Target)
}

// Validate checks that all per-row sequences have the same length.
func (b *Batch) Validate() error {
	if b.Images == nil {
		return fmt.Errorf("batch has no images")
	}
	n := b.Images.Shape[0]
	if len(b.Original) != n || len(b.Target) != n || len(b.Indices) != n {
		return fmt.Errorf("batch length mismatch: images=%d indices=%d original=%d target=%d",
			n, len(b.Indices), len(b.Original), len(b.Target))
	}
	return nil
}

// Append concatenates poisoned samples after the existing rows. Appended rows
// get index -1. An empty poison set leaves the batch untouched.
func (b *Batch) Append(p Poison) error {
	if p.Len() == 0 {
		return nil
	}
	if p.Images == nil || p.Images.Shape[0] != p.Len() || len(p.Original) != p.Len() {
		return fmt.Errorf("poison length mismatch: target=%d original=%d", p.Len(), len(p.Original))
	}
	images, err := tensor.Concat(b.Images, p.Images)
	if err != nil {
		return fmt.Errorf("append poison: %w", err)
	}
	b.Images = images
	b.Original = append(append([]int(nil), b.Original...), p.Original...)
	b.Target = append(append([]int(nil), b.Target...), p.Target...)
	indices := append([]int(nil), b.Indices...)
	for i := 0; i < p.Len(); i++ {
		indices = append(indices, -1)
	}
	b.Indices = indices
	return nil
}

// Partition splits row positions into clean (original == target) and trojan
// (original != target) sets. Every row lands in exactly one of them.
func Partition(original, target []int) (clean, troj []int) {
	clean = make([]int, 0, len(target))
	troj = make([]int, 0)
	for i := range target {
		if original[i] == target[i] {
			clean = append(clean, i)
		} else {
			troj = append(troj, i)
		}
	}
	return clean, troj
}
