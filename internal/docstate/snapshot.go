package docstate

// State is the serialisable form of a Store. Documents are kept in
// iteration order.
type State struct {
	Documents           []Document  `json:"documents"`
	LoadState           LoadState   `json:"loadState"`
	LastAction          *LastAction `json:"lastAction,omitempty"`
	SelectedPageIDs     []string    `json:"selectedPageIds"`
	ExpandedDocumentIDs []string    `json:"expandedDocumentIds"`
	DraggedPageIDs      []string    `json:"draggedPageIds"`
	PreviewPageIDs      []string    `json:"previewPageIds"`
}

func (s *Store) State() State {
	return State{
		Documents:           s.Documents(),
		LoadState:           s.loadState,
		LastAction:          s.LastAction(),
		SelectedPageIDs:     nonNil(s.SelectedPageIDs()),
		ExpandedDocumentIDs: nonNil(s.ExpandedDocumentIDs()),
		DraggedPageIDs:      nonNil(s.DraggedPageIDs()),
		PreviewPageIDs:      nonNil(s.PreviewPageIDs()),
	}
}

// Restore replaces the store contents with state.
func (s *Store) Restore(state State) {
	s.Reset()
	for _, doc := range state.Documents {
		if _, exists := s.docs[doc.ID]; !exists {
			s.order = append(s.order, doc.ID)
		}
		s.docs[doc.ID] = doc.Clone()
	}
	s.loadState = state.LoadState
	if s.loadState == "" {
		s.loadState = LoadStateInitial
	}
	if state.LastAction != nil {
		action := *state.LastAction
		s.lastAction = &action
	}
	s.selectedPageIDs = append([]string(nil), state.SelectedPageIDs...)
	s.expandedDocumentIDs = append([]string(nil), state.ExpandedDocumentIDs...)
	s.draggedPageIDs = append([]string(nil), state.DraggedPageIDs...)
	s.previewPageIDs = append([]string(nil), state.PreviewPageIDs...)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
