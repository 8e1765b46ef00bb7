// Package field implements the landmark interference model: the landmark
// store, the per-point probability evaluation, the observation updater and
// the byte layouts shared with accelerated evaluators.
package field

import (
	"errors"
	"fmt"
)

// DefaultCapacity is the landmark buffer capacity evaluators are sized for.
const DefaultCapacity = 100

// ErrCapacityExceeded is returned when an append would exceed the store capacity.
var ErrCapacityExceeded = errors.New("landmark capacity exceeded")

// Landmark is a fixed reference point and the distance currently perceived to it.
type Landmark struct {
	Position     [2]float32 // world coordinate, immutable after creation
	ObservedDist float32    // written by Observe
	Confidence   float32    // amplitude weight, default 1.0
	PhaseOffset  float32    // cosmetic phase term, written by the frame driver
}

// NewLandmark returns a landmark at (x, y) with default confidence.
func NewLandmark(x, y float32) Landmark {
	return Landmark{
		Position:   [2]float32{x, y},
		Confidence: 1.0,
	}
}

// Store is an append-only, ordered landmark collection.
// A landmark's index is its identity for the lifetime of the store.
type Store struct {
	landmarks []Landmark
	capacity  int
}

// NewStore creates an empty store holding at most capacity landmarks.
// A non-positive capacity uses DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		landmarks: make([]Landmark, 0, capacity),
		capacity:  capacity,
	}
}

// Add appends a landmark at (x, y) and returns its index.
// The store is left unchanged when it is already full.
func (s *Store) Add(x, y float32) (int, error) {
	if len(s.landmarks) >= s.capacity {
		return -1, fmt.Errorf("adding landmark (%g, %g): %w (capacity %d)", x, y, ErrCapacityExceeded, s.capacity)
	}
	s.landmarks = append(s.landmarks, NewLandmark(x, y))
	return len(s.landmarks) - 1, nil
}

// Len returns the number of landmarks.
func (s *Store) Len() int { return len(s.landmarks) }

// Capacity returns the maximum number of landmarks.
func (s *Store) Capacity() int { return s.capacity }

// At returns a copy of landmark i.
func (s *Store) At(i int) Landmark { return s.landmarks[i] }

// View returns the landmarks in index order.
// The slice aliases the store and must not be modified by the caller.
func (s *Store) View() []Landmark { return s.landmarks }

// Observe updates every landmark's observed distance from the observer at (x, y).
func (s *Store) Observe(x, y float32) { Observe(s.landmarks, x, y) }

// SetPhaseOffset sets the phase offset of every landmark.
func (s *Store) SetPhaseOffset(v float32) {
	for i := range s.landmarks {
		s.landmarks[i].PhaseOffset = v
	}
}
