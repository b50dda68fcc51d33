package engine

import (
	"os"

	"gopkg.in/yaml.v3"
)

// persistedParams is the YAML-serializable form of a parameter snapshot.
// Field names are kept stable across releases since this is a save-file
// format, not an in-memory struct free to be renamed at will.
type persistedParams struct {
	Attack      float64 `yaml:"attack"`
	Decay       float64 `yaml:"decay"`
	OctaveShift float64 `yaml:"octave_shift"`
	OctaveMix   float64 `yaml:"octave_mix"`
	Colour      float64 `yaml:"colour"`
	Sparsity    float64 `yaml:"sparsity"`
	Tuning      float64 `yaml:"tuning"`
	Gain        float64 `yaml:"gain"`
	Mix         float64 `yaml:"mix"`
	Master      float64 `yaml:"master"`
}

// EncodeYAML serializes the current parameter snapshot. (Deliberately not
// named MarshalYAML: gopkg.in/yaml.v3 reserves that name for its Marshaler
// interface with a different signature.)
func (p *Params) EncodeYAML() ([]byte, error) {
	s := p.Load()
	return yaml.Marshal(persistedParams{
		Attack:      s.Attack,
		Decay:       s.Decay,
		OctaveShift: s.OctaveShift,
		OctaveMix:   s.OctaveMix,
		Colour:      s.Colour,
		Sparsity:    s.Sparsity,
		Tuning:      s.Tuning,
		Gain:        s.Gain,
		Mix:         s.Mix,
		Master:      s.Master,
	})
}

// DecodeYAML loads a parameter snapshot and applies it through the
// clamped Set* methods, so a corrupt or hand-edited file can never push
// a parameter cell outside its documented range.
func (p *Params) DecodeYAML(data []byte) error {
	var pp persistedParams
	if err := yaml.Unmarshal(data, &pp); err != nil {
		return err
	}
	p.SetAttack(pp.Attack)
	p.SetDecay(pp.Decay)
	p.SetOctaveShift(pp.OctaveShift)
	p.SetOctaveMix(pp.OctaveMix)
	p.SetColour(pp.Colour)
	p.SetSparsity(pp.Sparsity)
	p.SetTuning(pp.Tuning)
	p.SetGain(pp.Gain)
	p.SetMix(pp.Mix)
	p.SetMaster(pp.Master)
	return nil
}

// SaveFile writes the current parameter snapshot to path as YAML.
func (p *Params) SaveFile(path string) error {
	data, err := p.EncodeYAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFile reads and applies a parameter snapshot from path.
func (p *Params) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return p.DecodeYAML(data)
}
