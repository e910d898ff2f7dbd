package checkpoints

import (
	"fmt"
	"path/filepath"
	"time"
)

// Result is the record written at the end of an attack run: the effective
// configuration and the final evaluation.
type Result struct {
	RunID     string             `json:"run_id"`
	Method    string             `json:"method"`
	Dataset   string             `json:"dataset"`
	Network   string             `json:"network"`
	Config    map[string]any     `json:"config"`
	Metrics   map[string]float64 `json:"metrics"`
	CreatedAt time.Time          `json:"created_at"`
}

// ResultFileName builds "<method>_<dataset>_<network>_<timestamp><ext>".
func ResultFileName(method, dataset, network, timestamp string, format CheckpointFormat) string {
	return fmt.Sprintf("%s_%s_%s_%s%s", method, dataset, network, timestamp, format.Extension())
}

// SaveResult writes the result into dir and returns the full path.
func SaveResult(result *Result, dir, timestamp string, format CheckpointFormat) (string, error) {
	path := filepath.Join(dir, ResultFileName(result.Method, result.Dataset, result.Network, timestamp, format))
	var err error
	switch format {
	case FormatJSON:
		err = saveJSON(result, path)
	case FormatProto:
		err = saveProto(result, path)
	default:
		return "", fmt.Errorf("unsupported result format: %s", format)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// LoadResult reads a result written by SaveResult.
func LoadResult(path string, format CheckpointFormat) (*Result, error) {
	var result Result
	var err error
	switch format {
	case FormatJSON:
		err = loadJSON(path, &result)
	case FormatProto:
		err = loadProto(path, &result)
	default:
		return nil, fmt.Errorf("unsupported result format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}
