package output

import (
	"fmt"
	"os"

	"lardata/metadata"
)

const sidecarSuffix = ".json"

type sidecar struct {
	Metadata metadata.Pairs `json:"metadata"`
}

// SidecarPath is where the metadata of path is kept.
func SidecarPath(path string) string {
	return path + sidecarSuffix
}

func WriteSidecar(path string, pairs metadata.Pairs) error {
	if pairs == nil {
		pairs = metadata.Pairs{}
	}
	bytes, err := jsonMarshalIndent(sidecar{Metadata: pairs}, "", "  ")
	if err != nil {
		return err
	}
	bytes = append(bytes, '\n')
	return os.WriteFile(SidecarPath(path), bytes, 0o644)
}

func ReadSidecar(path string) (metadata.Pairs, error) {
	data, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		return nil, err
	}
	var sc sidecar
	if err := jsonUnmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("invalid sidecar %s: %w", SidecarPath(path), err)
	}
	return sc.Metadata, nil
}

// SidecarReader reads the metadata of input files from their sidecars.
type SidecarReader struct{}

func (SidecarReader) InputMetadata(path string) (metadata.Pairs, error) {
	return ReadSidecar(path)
}
