package editops

import (
	"fmt"

	"classverify/internal/docstate"
)

// Documents is the read view of the store the engine works from.
type Documents interface {
	Document(id string) (docstate.Document, bool)
	OwnerOf(pageID string) (docstate.Document, bool)
}

// workingSet holds deep copies of the documents an intent touches. Every
// mutation goes through it so repeated changes to the same source
// accumulate on one copy.
type workingSet struct {
	order   []string
	docs    map[string]*docstate.Document
	touched []string
	drop    map[string]bool
	created map[string]string
}

func newWorkingSet() *workingSet {
	return &workingSet{
		docs:    make(map[string]*docstate.Document),
		drop:    make(map[string]bool),
		created: make(map[string]string),
	}
}

// create adds a document that does not exist in the store yet, to be
// inserted after createAfter.
func (w *workingSet) create(doc docstate.Document, createAfter string) *docstate.Document {
	w.add(doc)
	w.created[doc.ID] = createAfter
	w.touch(doc.ID)
	return w.docs[doc.ID]
}

func (w *workingSet) add(doc docstate.Document) {
	if _, ok := w.docs[doc.ID]; ok {
		return
	}
	clone := doc.Clone()
	w.docs[doc.ID] = &clone
	w.order = append(w.order, doc.ID)
}

func (w *workingSet) get(id string) (*docstate.Document, bool) {
	doc, ok := w.docs[id]
	return doc, ok
}

func (w *workingSet) touch(id string) {
	for _, existing := range w.touched {
		if existing == id {
			return
		}
	}
	w.touched = append(w.touched, id)
}

// resolve loads the owners of pageIDs and the listed documentIDs, in that
// order. Unknown ids are skipped.
func (w *workingSet) resolve(docs Documents, pageIDs, documentIDs []string) {
	for _, pageID := range pageIDs {
		if owner, ok := docs.OwnerOf(pageID); ok {
			w.add(owner)
		}
	}
	for _, id := range documentIDs {
		if doc, ok := docs.Document(id); ok {
			w.add(doc)
		}
	}
}

func (w *workingSet) owner(pageID string) (*docstate.Document, int, bool) {
	for _, id := range w.order {
		doc := w.docs[id]
		if idx := doc.PageIndex(pageID); idx >= 0 {
			return doc, idx, true
		}
	}
	return nil, -1, false
}

// detach splices pageID out of its owner and applies the emptied-document
// policy unless the owner is keep.
func (w *workingSet) detach(pageID, keep string) (docstate.Page, *docstate.Document, error) {
	source, idx, ok := w.owner(pageID)
	if !ok {
		return docstate.Page{}, nil, fmt.Errorf("%w: %s", ErrPageNotFound, pageID)
	}
	page := source.Pages[idx]
	source.Pages = append(source.Pages[:idx], source.Pages[idx+1:]...)
	w.touch(source.ID)

	if len(source.Pages) == 0 && source.ID != keep {
		if source.IsGenerated {
			w.drop[source.ID] = true
		} else {
			source.MarkAsDeleted = true
		}
	}
	return page, source, nil
}

// relocate moves pageIDs into target starting at position at. Each page
// lands right after the previous one. A negative at appends. Pages already
// owned by target are left alone when skipOwned is set.
func (w *workingSet) relocate(pageIDs []string, target *docstate.Document, at int, skipOwned bool) error {
	insertAt := at
	for _, pageID := range pageIDs {
		if skipOwned && target.PageIndex(pageID) >= 0 {
			continue
		}
		page, _, err := w.detach(pageID, target.ID)
		if err != nil {
			return err
		}

		pos := insertAt
		if pos < 0 || pos > len(target.Pages) {
			pos = len(target.Pages)
		}
		target.Pages = append(target.Pages, docstate.Page{})
		copy(target.Pages[pos+1:], target.Pages[pos:])
		target.Pages[pos] = page
		if insertAt >= 0 {
			insertAt = pos + 1
		}
		target.MarkAsDeleted = false
		w.touch(target.ID)
	}
	return nil
}

// updates emits one operation per touched document: creates first, then
// the remaining documents with last at the end in the order given. Emptied
// generated documents become deletes.
func (w *workingSet) updates(last ...string) []docstate.StateUpdate {
	isLast := make(map[string]bool, len(last))
	for _, id := range last {
		isLast[id] = true
	}
	out := make([]docstate.StateUpdate, 0, len(w.touched)+len(last))
	emit := func(id string) {
		if after, ok := w.created[id]; ok {
			out = append(out, docstate.CreateUpdate(*w.docs[id], after))
			return
		}
		if w.drop[id] {
			out = append(out, docstate.DeleteUpdate(id))
			return
		}
		out = append(out, docstate.ReplaceUpdate(*w.docs[id]))
	}
	for _, id := range w.touched {
		if _, ok := w.created[id]; ok {
			emit(id)
		}
	}
	for _, id := range w.touched {
		if _, ok := w.created[id]; ok || isLast[id] {
			continue
		}
		emit(id)
	}
	for _, id := range last {
		_, known := w.docs[id]
		if _, created := w.created[id]; known && !created {
			emit(id)
		}
	}
	return out
}
