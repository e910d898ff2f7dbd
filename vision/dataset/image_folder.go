package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-trojan/vision/preprocessing"
)

// ImageFolder lists images in a directory structure where each
// subdirectory is a class.
type ImageFolder struct {
	imagePaths []string
	labels     []int
	classNames []string
}

// NewImageFolder scans root for class subdirectories. Classes are indexed in
// lexical order.
func NewImageFolder(root string, extensions []string) (*ImageFolder, error) {
	if len(extensions) == 0 {
		extensions = []string{".jpg", ".jpeg", ".png"}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}

	folder := &ImageFolder{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		classIdx := len(folder.classNames)
		folder.classNames = append(folder.classNames, entry.Name())

		var files []string
		for _, ext := range extensions {
			matches, err := filepath.Glob(filepath.Join(root, entry.Name(), "*"+ext))
			if err != nil {
				continue
			}
			files = append(files, matches...)
		}
		sort.Strings(files)
		for _, file := range files {
			folder.imagePaths = append(folder.imagePaths, file)
			folder.labels = append(folder.labels, classIdx)
		}
	}

	if len(folder.imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}
	return folder, nil
}

// Len returns the number of items in the dataset
func (f *ImageFolder) Len() int {
	return len(f.imagePaths)
}

// GetItem returns the image path and label at the given index
func (f *ImageFolder) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(f.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(f.imagePaths))
	}
	return f.imagePaths[index], f.labels[index], nil
}

func (f *ImageFolder) ClassNames() []string {
	return f.classNames
}

// Load decodes every image at the given square size into a TrojanDataset.
func (f *ImageFolder) Load(name string, size, workers int) (*TrojanDataset, error) {
	imgs, err := preprocessing.PreprocessBatch(f.imagePaths, size, workers)
	if err != nil {
		return nil, err
	}
	images := make([][]float64, len(imgs))
	for i, img := range imgs {
		images[i] = img.Data
	}
	return New(name, []int{3, size, size}, f.classNames, images, f.labels)
}

// LoadSplits reads <root>/train and <root>/test.
func LoadSplits(root, name string, size, workers int) (train, test *TrojanDataset, err error) {
	load := func(split string) (*TrojanDataset, error) {
		folder, err := NewImageFolder(filepath.Join(root, split), nil)
		if err != nil {
			return nil, fmt.Errorf("%s split: %w", split, err)
		}
		return folder.Load(name, size, workers)
	}
	if train, err = load("train"); err != nil {
		return nil, nil, err
	}
	if test, err = load("test"); err != nil {
		return nil, nil, err
	}
	if strings.Join(train.ClassNames(), ",") != strings.Join(test.ClassNames(), ",") {
		return nil, nil, fmt.Errorf("train classes %v do not match test classes %v", train.ClassNames(), test.ClassNames())
	}
	return train, test, nil
}
