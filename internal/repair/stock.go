package repair

import (
	"sync"

	"techclinic/internal/models"
)

// AdvisoryStock is this session's local copy of box stock. It is advisory
// only: it is optimistically decremented after assignments so later
// choices in the same session see reduced availability, but the server
// re-validates every assignment and is the sole authority on stock.
type AdvisoryStock struct {
	mu    sync.RWMutex
	boxes []models.Box
}

// Load replaces the cached boxes.
func (s *AdvisoryStock) Load(boxes []models.Box) {
	cp := make([]models.Box, len(boxes))
	for i, b := range boxes {
		cp[i] = cloneBox(b)
	}
	s.mu.Lock()
	s.boxes = cp
	s.mu.Unlock()
}

// Boxes returns a copy of every cached box, in server order.
func (s *AdvisoryStock) Boxes() []models.Box {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Box, len(s.boxes))
	for i, b := range s.boxes {
		out[i] = cloneBox(b)
	}
	return out
}

// Box returns a copy of one box.
func (s *AdvisoryStock) Box(id string) (models.Box, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(id); i >= 0 {
		return cloneBox(s.boxes[i]), true
	}
	return models.Box{}, false
}

// Available returns the box's entries with quantity > 0.
func (s *AdvisoryStock) Available(boxID string) []models.BoxPart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(boxID)
	if i < 0 {
		return nil
	}
	return inStock(s.boxes[i].Parts)
}

// Quantity returns the cached count of partID in boxID.
func (s *AdvisoryStock) Quantity(boxID, partID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(boxID)
	if i < 0 {
		return 0, false
	}
	for _, p := range s.boxes[i].Parts {
		if p.PartID == partID {
			return p.Quantity, true
		}
	}
	return 0, false
}

// ReplaceParts swaps a box's entries for a fresher per-box listing. The
// box's aggregate quantity is left as the server last reported it.
func (s *AdvisoryStock) ReplaceParts(boxID string, parts []models.BoxPart) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(boxID)
	if i < 0 {
		return false
	}
	s.boxes[i].Parts = append([]models.BoxPart(nil), parts...)
	return true
}

// Consume decrements both the box aggregate and the part entry by qty.
func (s *AdvisoryStock) Consume(boxID, partID string, qty int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(boxID)
	if i < 0 {
		return false
	}
	for j := range s.boxes[i].Parts {
		if s.boxes[i].Parts[j].PartID == partID {
			s.boxes[i].Parts[j].Quantity -= qty
			s.boxes[i].Quantity -= qty
			return true
		}
	}
	return false
}

func (s *AdvisoryStock) index(id string) int {
	for i, b := range s.boxes {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func inStock(parts []models.BoxPart) []models.BoxPart {
	out := make([]models.BoxPart, 0, len(parts))
	for _, p := range parts {
		if p.Quantity > 0 {
			out = append(out, p)
		}
	}
	return out
}

func cloneBox(b models.Box) models.Box {
	b.Parts = append([]models.BoxPart(nil), b.Parts...)
	return b
}
