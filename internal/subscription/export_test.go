package subscription

import "github.com/emperorhan/wallet-runtime/internal/domain/model"

// anchors returns the current and suggested block ids.
func (s *Subscription) anchors() (current, suggested model.BlockID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentBlockID, s.suggestedBlockID
}
