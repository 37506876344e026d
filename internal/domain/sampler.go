package domain

// VertexSampler keeps an evenly spread subset of at most Max vertices from a
// stream of unknown length. When the sample overflows, every other kept
// vertex is dropped and the stride doubles.
type VertexSampler struct {
	max    int
	stride int
	seen   int
	points []Coordinate
}

// NewVertexSampler creates a sampler keeping at most max vertices.
func NewVertexSampler(max int) *VertexSampler {
	return &VertexSampler{max: max, stride: 1}
}

// Add offers one vertex to the sample.
func (s *VertexSampler) Add(x, y float64) {
	if s.max <= 0 {
		return
	}
	if s.seen%s.stride == 0 {
		s.points = append(s.points, Coordinate{X: x, Y: y})
		if len(s.points) > s.max {
			s.halve()
			s.stride *= 2
		}
	}
	s.seen++
}

// Seen returns the number of vertices offered so far.
func (s *VertexSampler) Seen() int { return s.seen }

// Points returns the sampled vertices.
func (s *VertexSampler) Points() []Coordinate {
	return s.points
}

func (s *VertexSampler) halve() {
	kept := s.points[:0]
	for i := 0; i < len(s.points); i += 2 {
		kept = append(kept, s.points[i])
	}
	s.points = kept
}
