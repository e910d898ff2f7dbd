package preprocessing

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/rand"
	"os"
	"sync"
)

// ImageProcessor decodes images and resizes them to a square target size.
type ImageProcessor struct {
	mu              sync.Mutex
	tempImageBuffer *image.RGBA
	targetSize      int
}

// NewImageProcessor creates a new image processor with the specified target size
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// ProcessedImage represents a preprocessed image ready for network input
type ProcessedImage struct {
	Data     []float64
	Width    int
	Height   int
	Channels int
}

// DecodeAndPreprocess decodes a JPEG or PNG image and returns it in CHW
// layout with values in [0, 1].
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tempImageBuffer == nil || p.tempImageBuffer.Bounds().Dx() != p.targetSize {
		p.tempImageBuffer = image.NewRGBA(image.Rect(0, 0, p.targetSize, p.targetSize))
	}
	targetImg := p.tempImageBuffer

	// nearest-neighbour resize
	scaleX := float64(width) / float64(p.targetSize)
	scaleY := float64(height) / float64(p.targetSize)
	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			srcX := int(float64(x) * scaleX)
			srcY := int(float64(y) * scaleY)
			if srcX >= width {
				srcX = width - 1
			}
			if srcY >= height {
				srcY = height - 1
			}
			targetImg.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	plane := p.targetSize * p.targetSize
	data := make([]float64, 3*plane)
	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			r, g, b, _ := targetImg.At(x, y).RGBA()
			idx := y*p.targetSize + x
			data[idx] = float64(r) / 65535.0
			data[plane+idx] = float64(g) / 65535.0
			data[2*plane+idx] = float64(b) / 65535.0
		}
	}

	return &ProcessedImage{
		Data:     data,
		Width:    p.targetSize,
		Height:   p.targetSize,
		Channels: 3,
	}, nil
}

// PreprocessBatch preprocesses multiple images concurrently. Results keep
// the order of imagePaths.
func PreprocessBatch(imagePaths []string, targetSize int, maxWorkers int) ([]*ProcessedImage, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([]*ProcessedImage, len(imagePaths))
	errs := make([]error, len(imagePaths))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(imagePaths))
	var wg sync.WaitGroup

	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor := NewImageProcessor(targetSize)

			for j := range jobs {
				file, err := os.Open(j.path)
				if err != nil {
					errs[j.index] = err
					continue
				}

				img, err := processor.DecodeAndPreprocess(file)
				file.Close()

				if err != nil {
					errs[j.index] = err
				} else {
					results[j.index] = img
				}
			}
		}()
	}

	for i, path := range imagePaths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to process image %d (%s): %w", i, imagePaths[i], err)
		}
	}
	return results, nil
}

// HorizontalFlip mirrors a CHW image left to right in place.
func HorizontalFlip(data []float64, channels, height, width int) {
	for c := 0; c < channels; c++ {
		for y := 0; y < height; y++ {
			row := data[(c*height+y)*width : (c*height+y+1)*width]
			for i, j := 0, width-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
	}
}

// Augment returns a randomly flipped copy of a CHW image. The input is not
// modified.
func Augment(data []float64, channels, height, width int, rng *rand.Rand) []float64 {
	out := append([]float64(nil), data...)
	if rng.Float64() < 0.5 {
		HorizontalFlip(out, channels, height, width)
	}
	return out
}

// PadCrop zero-pads a CHW image by pad pixels on every side and crops a
// random height x width window back out, shifting the content by up to pad
// pixels in each direction. The input is not modified.
func PadCrop(data []float64, channels, height, width, pad int, rng *rand.Rand) []float64 {
	out := make([]float64, len(data))
	if pad <= 0 {
		copy(out, data)
		return out
	}
	dy := rng.Intn(2*pad+1) - pad
	dx := rng.Intn(2*pad+1) - pad
	for c := 0; c < channels; c++ {
		for y := 0; y < height; y++ {
			sy := y + dy
			if sy < 0 || sy >= height {
				continue
			}
			for x := 0; x < width; x++ {
				sx := x + dx
				if sx < 0 || sx >= width {
					continue
				}
				out[(c*height+y)*width+x] = data[(c*height+sy)*width+sx]
			}
		}
	}
	return out
}
