package table

import (
	"fmt"
	"math"
	"slices"
)

// Matrix is a dense genes × samples expression matrix. Values are stored gene
// major: Values[g][s] is the value of gene g in sample s.
type Matrix struct {
	Genes   []string    `json:"genes"`
	Samples []string    `json:"samples"`
	Values  [][]float64 `json:"values"`

	sampleIdx map[string]int
}

// NewMatrix validates the shape and builds a matrix. Sample identifiers must be
// unique.
func NewMatrix(genes, samples []string, values [][]float64) (*Matrix, error) {
	if len(values) != len(genes) {
		return nil, fmt.Errorf("matrix has %d rows for %d genes", len(values), len(genes))
	}
	idx := make(map[string]int, len(samples))
	for i, s := range samples {
		if _, dup := idx[s]; dup {
			return nil, fmt.Errorf("duplicate sample %s", s)
		}
		idx[s] = i
	}
	rows := make([][]float64, len(values))
	for g, row := range values {
		if len(row) != len(samples) {
			return nil, fmt.Errorf("gene %s has %d values, want %d", genes[g], len(row), len(samples))
		}
		rows[g] = slices.Clone(row)
	}
	return &Matrix{
		Genes:     slices.Clone(genes),
		Samples:   slices.Clone(samples),
		Values:    rows,
		sampleIdx: idx,
	}, nil
}

// NumGenes returns the row count.
func (m *Matrix) NumGenes() int {
	if m == nil {
		return 0
	}
	return len(m.Genes)
}

// NumSamples returns the column count.
func (m *Matrix) NumSamples() int {
	if m == nil {
		return 0
	}
	return len(m.Samples)
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	if m == nil {
		return nil
	}
	out, err := NewMatrix(m.Genes, m.Samples, m.Values)
	if err != nil {
		panic(err)
	}
	return out
}

// HasSample reports whether id is a column of the matrix.
func (m *Matrix) HasSample(id string) bool {
	_, ok := m.index()[id]
	return ok
}

// SampleValues returns a copy of the column for sample id.
func (m *Matrix) SampleValues(id string) ([]float64, bool) {
	s, ok := m.index()[id]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(m.Genes))
	for g := range m.Genes {
		out[g] = m.Values[g][s]
	}
	return out, true
}

// SelectSamples returns the sub-matrix holding the requested samples, in the
// requested order, together with the requested identifiers that are absent.
func (m *Matrix) SelectSamples(ids []string) (*Matrix, []string) {
	idx := m.index()
	var (
		keep    []int
		kept    []string
		missing []string
	)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		s, ok := idx[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		keep = append(keep, s)
		kept = append(kept, id)
	}
	values := make([][]float64, len(m.Genes))
	for g := range m.Genes {
		row := make([]float64, len(keep))
		for j, s := range keep {
			row[j] = m.Values[g][s]
		}
		values[g] = row
	}
	out, err := NewMatrix(m.Genes, kept, values)
	if err != nil {
		panic(err)
	}
	return out, missing
}

// CheckNonNegative returns an error naming the first negative or NaN value.
func (m *Matrix) CheckNonNegative() error {
	for g, row := range m.Values {
		for s, v := range row {
			if v < 0 || math.IsNaN(v) {
				return fmt.Errorf("gene %s sample %s has invalid expression value %v", m.Genes[g], m.Samples[s], v)
			}
		}
	}
	return nil
}

func (m *Matrix) index() map[string]int {
	if m.sampleIdx == nil {
		m.sampleIdx = make(map[string]int, len(m.Samples))
		for i, s := range m.Samples {
			m.sampleIdx[s] = i
		}
	}
	return m.sampleIdx
}
