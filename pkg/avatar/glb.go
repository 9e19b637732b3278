package avatar

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	glbMagic     = 0x46546C67 // "glTF"
	glbChunkJSON = 0x4E4F534A // "JSON"
)

// Mesh is a morph-targeted mesh of a character model.
type Mesh struct {
	Name string

	// Targets maps morph target names to their influence index.
	Targets map[string]int

	mu         sync.Mutex
	influences []float64
}

// NewMesh builds a mesh whose morph targets are named in order.
func NewMesh(name string, targetNames ...string) *Mesh {
	m := &Mesh{
		Name:       name,
		Targets:    make(map[string]int, len(targetNames)),
		influences: make([]float64, len(targetNames)),
	}
	for i, n := range targetNames {
		if _, dup := m.Targets[n]; !dup {
			m.Targets[n] = i
		}
	}
	return m
}

// resolve returns the index of the first name present.
func (m *Mesh) resolve(names ...string) (int, bool) {
	for _, n := range names {
		if idx, ok := m.Targets[n]; ok {
			return idx, true
		}
	}
	return 0, false
}

func (m *Mesh) setInfluence(i int, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= 0 && i < len(m.influences) {
		m.influences[i] = v
	}
}

// Influence returns the current weight of the named morph target.
func (m *Mesh) Influence(name string) (float64, bool) {
	idx, ok := m.Targets[name]
	if !ok {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.influences[idx], true
}

// Model is the subset of a glTF character that the rig drives.
type Model struct {
	Meshes []*Mesh
}

type gltfDoc struct {
	Meshes []struct {
		Name   string `json:"name"`
		Extras struct {
			TargetNames []string `json:"targetNames"`
		} `json:"extras"`
		Primitives []struct {
			Targets []json.RawMessage `json:"targets"`
		} `json:"primitives"`
	} `json:"meshes"`
}

// LoadGLB reads a binary glTF container and collects each mesh's morph
// target names from extras.targetNames. Meshes without targets are skipped.
func LoadGLB(r io.Reader) (*Model, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("avatar: read GLB header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != glbMagic {
		return nil, errors.New("avatar: not a GLB file")
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != 2 {
		return nil, fmt.Errorf("avatar: unsupported GLB version %d", v)
	}

	var chunk [8]byte
	if _, err := io.ReadFull(r, chunk[:]); err != nil {
		return nil, fmt.Errorf("avatar: read GLB chunk: %w", err)
	}
	size := binary.LittleEndian.Uint32(chunk[0:4])
	if binary.LittleEndian.Uint32(chunk[4:8]) != glbChunkJSON {
		return nil, errors.New("avatar: first GLB chunk is not JSON")
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("avatar: read GLB JSON: %w", err)
	}
	return parseGLTF(data)
}

func parseGLTF(data []byte) (*Model, error) {
	var doc gltfDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("avatar: decode glTF JSON: %w", err)
	}
	model := &Model{}
	for _, m := range doc.Meshes {
		names := m.Extras.TargetNames
		if len(names) == 0 {
			continue
		}
		model.Meshes = append(model.Meshes, NewMesh(m.Name, names...))
	}
	return model, nil
}

// EncodeGLB writes a JSON-only GLB container. It exists so tools and tests
// can produce minimal character files.
func EncodeGLB(w io.Writer, gltfJSON []byte) error {
	// Chunks are padded with spaces to a 4-byte boundary.
	for len(gltfJSON)%4 != 0 {
		gltfJSON = append(gltfJSON, ' ')
	}
	buf := make([]byte, 20, 20+len(gltfJSON))
	binary.LittleEndian.PutUint32(buf[0:4], glbMagic)
	binary.LittleEndian.PutUint32(buf[4:8], 2)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(20+len(gltfJSON)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(gltfJSON)))
	binary.LittleEndian.PutUint32(buf[16:20], glbChunkJSON)
	buf = append(buf, gltfJSON...)
	_, err := w.Write(buf)
	return err
}
