package field

// Model pairs a landmark store with a wave number. It is the whole surface a
// scripting binding needs: construct, add landmarks, observe, query.
type Model struct {
	Store      *Store
	WaveNumber float64
}

// NewModel returns an empty model with DefaultCapacity.
func NewModel(waveNumber float64) *Model {
	return &Model{
		Store:      NewStore(DefaultCapacity),
		WaveNumber: waveNumber,
	}
}

// AddLandmark appends a landmark at (x, y).
func (m *Model) AddLandmark(x, y float32) error {
	_, err := m.Store.Add(x, y)
	return err
}

// UpdateObservation recomputes observed distances from a camera at (x, y).
func (m *Model) UpdateObservation(x, y float32) {
	m.Store.Observe(x, y)
}

// Probability evaluates the field at (x, y).
func (m *Model) Probability(x, y float32) float64 {
	return ProbabilityAt(m.Store.View(), m.WaveNumber, x, y)
}
