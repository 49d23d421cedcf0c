package docstate

type LoadState string

const (
	LoadStateInitial LoadState = "Initial"
	LoadStateLoading LoadState = "Loading"
	LoadStateLoaded  LoadState = "Loaded"
	LoadStateError   LoadState = "Error"
)

// PageRef identifies a page touched by the last operation.
type PageRef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DocumentID string `json:"documentId"`
}

type LastAction struct {
	DocAction string    `json:"docAction"`
	Success   bool      `json:"success"`
	Documents []string  `json:"documents"`
	Pages     []PageRef `json:"pages"`
}

// Store is the ordered document table plus the UI flags the verification
// screen keeps next to it. The table is only mutated through
// CreateDocuments, ApplyUpdates and OperationSuccess. Store is not safe for
// concurrent use; callers serialise access.
type Store struct {
	order      []string
	docs       map[string]Document
	loadState  LoadState
	lastAction *LastAction

	selectedPageIDs     []string
	expandedDocumentIDs []string
	draggedPageIDs      []string
	previewPageIDs      []string
}

func NewStore() *Store {
	return &Store{
		docs:      make(map[string]Document),
		loadState: LoadStateInitial,
	}
}

func (s *Store) Len() int {
	return len(s.order)
}

// IDs returns document ids in iteration order.
func (s *Store) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Document returns a copy of the document with the given id.
func (s *Store) Document(id string) (Document, bool) {
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, false
	}
	return doc.Clone(), true
}

// Predecessor returns the id of the document immediately before id in
// iteration order, or "" when id is first.
func (s *Store) Predecessor(id string) (string, bool) {
	idx := s.indexOf(id)
	if idx < 0 {
		return "", false
	}
	if idx == 0 {
		return "", true
	}
	return s.order[idx-1], true
}

// Documents returns copies of all documents in iteration order.
func (s *Store) Documents() []Document {
	out := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.docs[id].Clone())
	}
	return out
}

// ActiveDocuments returns the documents that are not soft deleted.
func (s *Store) ActiveDocuments() []Document {
	out := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		doc := s.docs[id]
		if doc.MarkAsDeleted {
			continue
		}
		out = append(out, doc.Clone())
	}
	return out
}

// OwnerOf returns the document currently holding pageID.
func (s *Store) OwnerOf(pageID string) (Document, bool) {
	for _, id := range s.order {
		doc := s.docs[id]
		if doc.PageIndex(pageID) >= 0 {
			return doc.Clone(), true
		}
	}
	return Document{}, false
}

func (s *Store) LoadState() LoadState {
	return s.loadState
}

func (s *Store) LastAction() *LastAction {
	if s.lastAction == nil {
		return nil
	}
	out := *s.lastAction
	out.Documents = append([]string(nil), s.lastAction.Documents...)
	out.Pages = append([]PageRef(nil), s.lastAction.Pages...)
	return &out
}

// CreateDocuments appends documents to the table.
func (s *Store) CreateDocuments(documents []Document) {
	for _, doc := range documents {
		if _, exists := s.docs[doc.ID]; !exists {
			s.order = append(s.order, doc.ID)
		}
		s.docs[doc.ID] = doc.Clone()
	}
	s.loadState = LoadStateLoaded
	s.lastAction = nil
}

// BeginOperation marks an edit as pending.
func (s *Store) BeginOperation() {
	s.loadState = LoadStateLoading
}

// ApplyUpdates applies a batch atomically: all creates first, then updates,
// then deletes, whatever the order inside the batch.
func (s *Store) ApplyUpdates(updates []StateUpdate) {
	var creates, replaces, deletes []StateUpdate
	for _, update := range updates {
		switch update.Op {
		case OpCreate:
			creates = append(creates, update)
		case OpUpdate:
			replaces = append(replaces, update)
		case OpDelete:
			deletes = append(deletes, update)
		}
	}

	s.applyCreates(creates)

	for _, update := range replaces {
		if update.Update == nil {
			continue
		}
		if _, ok := s.docs[update.DocumentID]; !ok {
			continue
		}
		doc := update.Update.Clone()
		doc.ID = update.DocumentID
		s.docs[update.DocumentID] = doc
	}

	for _, update := range deletes {
		idx := s.indexOf(update.DocumentID)
		if idx < 0 {
			continue
		}
		s.order = append(s.order[:idx], s.order[idx+1:]...)
		delete(s.docs, update.DocumentID)
	}
}

// applyCreates splices each create in after its anchor. A create whose
// anchor is introduced by another create of the same batch waits for it; an
// anchor that never appears puts the document first.
func (s *Store) applyCreates(creates []StateUpdate) {
	pending := creates
	for len(pending) > 0 {
		var deferred []StateUpdate
		for _, update := range pending {
			if update.Update == nil {
				continue
			}
			if update.CreateAfterDocID != "" && s.indexOf(update.CreateAfterDocID) < 0 {
				deferred = append(deferred, update)
				continue
			}
			s.insertAfter(update)
		}
		if len(deferred) == len(pending) {
			for _, update := range deferred {
				update.CreateAfterDocID = ""
				s.insertAfter(update)
			}
			return
		}
		pending = deferred
	}
}

func (s *Store) insertAfter(update StateUpdate) {
	doc := update.Update.Clone()
	doc.ID = update.DocumentID
	if existing := s.indexOf(doc.ID); existing >= 0 {
		s.order = append(s.order[:existing], s.order[existing+1:]...)
	}
	s.docs[doc.ID] = doc

	pos := 0
	if update.CreateAfterDocID != "" {
		pos = s.indexOf(update.CreateAfterDocID) + 1
	}
	s.order = append(s.order, "")
	copy(s.order[pos+1:], s.order[pos:])
	s.order[pos] = doc.ID
}

// OperationSuccess applies updates and records them as the last action.
// Deleted documents are applied but left out of the summary.
func (s *Store) OperationSuccess(docAction string, updates []StateUpdate, contextPageIDs []string) {
	s.ApplyUpdates(updates)

	wanted := make(map[string]struct{}, len(contextPageIDs))
	for _, id := range contextPageIDs {
		wanted[id] = struct{}{}
	}

	action := &LastAction{DocAction: docAction, Success: true, Documents: []string{}, Pages: []PageRef{}}
	seen := make(map[string]struct{})
	for _, update := range updates {
		if update.Op == OpDelete {
			continue
		}
		if _, dup := seen[update.DocumentID]; dup {
			continue
		}
		seen[update.DocumentID] = struct{}{}
		action.Documents = append(action.Documents, update.DocumentID)

		doc, ok := s.docs[update.DocumentID]
		if !ok {
			continue
		}
		for _, page := range doc.Pages {
			if _, hit := wanted[page.ID]; hit {
				action.Pages = append(action.Pages, PageRef{ID: page.ID, Name: page.Name, DocumentID: doc.ID})
			}
		}
	}
	s.lastAction = action
	s.loadState = LoadStateLoaded
}

func (s *Store) OperationError(docAction string) {
	s.loadState = LoadStateError
	s.lastAction = &LastAction{DocAction: docAction, Success: false, Documents: []string{}, Pages: []PageRef{}}
}

func (s *Store) SelectedPageIDs() []string     { return append([]string(nil), s.selectedPageIDs...) }
func (s *Store) ExpandedDocumentIDs() []string { return append([]string(nil), s.expandedDocumentIDs...) }
func (s *Store) DraggedPageIDs() []string      { return append([]string(nil), s.draggedPageIDs...) }
func (s *Store) PreviewPageIDs() []string      { return append([]string(nil), s.previewPageIDs...) }

func (s *Store) ToggleSelectedPage(pageID string) {
	s.selectedPageIDs = toggle(s.selectedPageIDs, pageID)
	s.lastAction = nil
}

func (s *Store) ToggleExpandedDocument(documentID string) {
	s.expandedDocumentIDs = toggle(s.expandedDocumentIDs, documentID)
	s.lastAction = nil
}

func (s *Store) ToggleDraggedPage(pageID string) {
	s.draggedPageIDs = toggle(s.draggedPageIDs, pageID)
	s.lastAction = nil
}

func (s *Store) TogglePreviewPage(pageID string) {
	s.previewPageIDs = toggle(s.previewPageIDs, pageID)
	s.lastAction = nil
}

func (s *Store) ClearSelection() {
	s.selectedPageIDs = nil
	s.draggedPageIDs = nil
	s.lastAction = nil
}

// Reset tears the store down to its initial empty state.
func (s *Store) Reset() {
	*s = *NewStore()
}

func (s *Store) indexOf(id string) int {
	for i, existing := range s.order {
		if existing == id {
			return i
		}
	}
	return -1
}

func toggle(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return append(ids, id)
}
