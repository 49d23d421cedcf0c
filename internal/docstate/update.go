package docstate

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// StateUpdate is one create, update or delete of a single document. Update
// carries the full document value for create and update and is nil for
// delete.
type StateUpdate struct {
	Op               Op        `json:"op"`
	DocumentID       string    `json:"documentId"`
	Update           *Document `json:"update,omitempty"`
	CreateAfterDocID string    `json:"createAfterDocId,omitempty"`
}

func CreateUpdate(doc Document, createAfterDocID string) StateUpdate {
	value := doc.Clone()
	return StateUpdate{Op: OpCreate, DocumentID: doc.ID, Update: &value, CreateAfterDocID: createAfterDocID}
}

func ReplaceUpdate(doc Document) StateUpdate {
	value := doc.Clone()
	return StateUpdate{Op: OpUpdate, DocumentID: doc.ID, Update: &value}
}

func DeleteUpdate(documentID string) StateUpdate {
	return StateUpdate{Op: OpDelete, DocumentID: documentID}
}

// Reader is the read side of the document table.
type Reader interface {
	Document(id string) (Document, bool)
	Predecessor(id string) (string, bool)
}

// GenerateReverseActions returns the operations that undo updates when
// applied to the state that results from applying them to state. It must be
// called before updates are applied.
//
// Updates and deletes whose target is missing from state are skipped.
func GenerateReverseActions(state Reader, updates []StateUpdate) []StateUpdate {
	reverse := make([]StateUpdate, 0, len(updates))
	for _, update := range updates {
		switch update.Op {
		case OpUpdate:
			current, ok := state.Document(update.DocumentID)
			if !ok {
				continue
			}
			reverse = append(reverse, ReplaceUpdate(current))
		case OpDelete:
			current, ok := state.Document(update.DocumentID)
			if !ok {
				continue
			}
			after, _ := state.Predecessor(update.DocumentID)
			reverse = append(reverse, CreateUpdate(current, after))
		case OpCreate:
			reverse = append(reverse, DeleteUpdate(update.DocumentID))
		}
	}
	return reverse
}

// AffectedDocumentIDs lists the ids touched by updates in order, without
// duplicates.
func AffectedDocumentIDs(updates []StateUpdate) []string {
	seen := make(map[string]struct{}, len(updates))
	ids := make([]string, 0, len(updates))
	for _, update := range updates {
		if _, ok := seen[update.DocumentID]; ok {
			continue
		}
		seen[update.DocumentID] = struct{}{}
		ids = append(ids, update.DocumentID)
	}
	return ids
}
