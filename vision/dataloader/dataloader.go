package dataloader

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-trojan/tensor"
	"github.com/tsawler/go-trojan/training"
	"github.com/tsawler/go-trojan/vision/dataset"
	"github.com/tsawler/go-trojan/vision/preprocessing"
)

// DataLoader batches a TrojanDataset. It is restartable: every Reset starts a
// new pass and, when shuffling, draws a new order from its own rng.
type DataLoader struct {
	dataset      *dataset.TrojanDataset
	batchSize    int
	shuffle      bool
	useTransform bool
	cropPad      int
	rng          *rand.Rand
	indices      []int
	position     int
	mu           sync.Mutex
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize int
	Shuffle   bool
	// Transform enables random augmentation of training images: a
	// horizontal flip and, when CropPadding is positive, a padded random crop.
	Transform   bool
	CropPadding int
}

// NewDataLoader creates a new data loader. rng drives shuffling and
// augmentation and must not be shared with other consumers.
func NewDataLoader(ds *dataset.TrojanDataset, config Config, rng *rand.Rand) (*DataLoader, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if rng == nil && (config.Shuffle || config.Transform) {
		return nil, fmt.Errorf("shuffling or transforms require an rng")
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset:      ds,
		batchSize:    config.BatchSize,
		shuffle:      config.Shuffle,
		useTransform: config.Transform,
		cropPad:      config.CropPadding,
		rng:          rng,
		indices:      indices,
	}
	dl.Reset()
	return dl, nil
}

// Reset resets the data loader to the beginning
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// SetUseTransform switches augmentation on or off.
func (dl *DataLoader) SetUseTransform(use bool) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.useTransform = use
}

func (dl *DataLoader) UseTransform() bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.useTransform
}

// NumBatches is the number of batches in one pass.
func (dl *DataLoader) NumBatches() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Next returns the next batch, or nil once the pass is exhausted.
func (dl *DataLoader) Next() (*training.Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, nil
	}
	n := dl.batchSize
	if remaining < n {
		n = remaining
	}

	shape := dl.dataset.Shape()
	c, h, w := shape[0], shape[1], shape[2]
	pixels := c * h * w

	images, err := tensor.Zeros([]int{n, c, h, w})
	if err != nil {
		return nil, err
	}
	batch := &training.Batch{
		Indices:  make([]int, n),
		Images:   images,
		Original: make([]int, n),
		Target:   make([]int, n),
	}

	for i := 0; i < n; i++ {
		s, err := dl.dataset.Sample(dl.indices[dl.position])
		if err != nil {
			return nil, err
		}
		img := s.Image
		if dl.useTransform {
			img = preprocessing.Augment(img, c, h, w, dl.rng)
			if dl.cropPad > 0 {
				img = preprocessing.PadCrop(img, c, h, w, dl.cropPad, dl.rng)
			}
		}
		copy(images.Data[i*pixels:(i+1)*pixels], img)
		batch.Indices[i] = s.Index
		batch.Original[i] = s.Original
		batch.Target[i] = s.Target
		dl.position++
	}
	return batch, nil
}

// Progress returns the current progress through the dataset
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}
