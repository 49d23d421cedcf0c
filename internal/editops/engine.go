package editops

import (
	"fmt"

	"github.com/google/uuid"

	"classverify/internal/docstate"
)

const maxIDAttempts = 16

type Option func(*Engine)

// WithIDGenerator replaces the id source for documents created by a split.
func WithIDGenerator(next func() string) Option {
	return func(e *Engine) {
		if next != nil {
			e.newID = next
		}
	}
}

type Engine struct {
	newID func() string
}

func New(opts ...Option) *Engine {
	e := &Engine{newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply computes the batch for intent against docs. Expected failures are
// reported in Result.Failure; a non-nil error means the intent referenced
// pages the documents do not hold.
func (e *Engine) Apply(docs Documents, classes []docstate.DocumentClass, intent Intent) (Result, error) {
	switch intent.Action {
	case PageMerge:
		return e.merge(docs, intent)
	case PageSplit:
		return e.split(docs, intent)
	case PageMove:
		return e.move(docs, intent)
	case PageDelete:
		return e.deletePages(docs, intent)
	case DocumentResolve:
		return e.resolve(docs, intent)
	case DocumentReject:
		return e.reject(docs, intent)
	case DocumentClassChange:
		return e.changeClass(docs, classes, intent)
	default:
		return fail(intent.Action, ErrUnknownAction, MsgUnknownAction), nil
	}
}

func (e *Engine) merge(docs Documents, intent Intent) (Result, error) {
	w := newWorkingSet()
	w.resolve(docs, intent.PageIDs, nil)
	targetDoc, ok := docs.Document(intent.TargetDocumentID)
	if !ok {
		return fail(intent.Action, ErrTargetDocumentNotFound, MsgTargetNotFound), nil
	}
	w.add(targetDoc)
	target, _ := w.get(targetDoc.ID)

	if err := w.relocate(intent.PageIDs, target, -1, true); err != nil {
		return Result{}, fmt.Errorf("merge into %s: %w", target.ID, err)
	}
	w.touch(target.ID)

	return succeed(intent, w.updates(target.ID), MsgMergeSuccess, map[string]any{
		"count":        len(intent.PageIDs),
		"documentName": target.Name,
	}), nil
}

func (e *Engine) split(docs Documents, intent Intent) (Result, error) {
	w := newWorkingSet()
	w.resolve(docs, intent.PageIDs, nil)

	referenceID := intent.TargetDocumentID
	if referenceID == "" && len(intent.PageIDs) > 0 {
		if owner, ok := docs.OwnerOf(intent.PageIDs[0]); ok {
			referenceID = owner.ID
		}
	}
	reference, ok := docs.Document(referenceID)
	if !ok {
		return fail(intent.Action, ErrTargetDocumentNotFound, MsgTargetNotFound), nil
	}

	id, err := e.freshID(docs)
	if err != nil {
		return Result{}, err
	}
	created := reference.Clone()
	created.ID = id
	created.Name = reference.Name + "_split"
	created.IsGenerated = true
	created.MarkAsDeleted = false
	created.Pages = []docstate.Page{}
	target := w.create(created, reference.ID)

	if err := w.relocate(intent.PageIDs, target, -1, false); err != nil {
		return Result{}, fmt.Errorf("split from %s: %w", reference.ID, err)
	}

	message := MsgSplitSuccessMany
	if len(intent.PageIDs) == 1 {
		message = MsgSplitSuccessOne
	}
	return succeed(intent, w.updates(), message, map[string]any{
		"count":        len(intent.PageIDs),
		"documentName": target.Name,
	}), nil
}

func (e *Engine) move(docs Documents, intent Intent) (Result, error) {
	w := newWorkingSet()
	w.resolve(docs, intent.PageIDs, nil)
	targetDoc, ok := docs.Document(intent.TargetDocumentID)
	if !ok {
		return fail(intent.Action, ErrTargetDocumentNotFound, MsgTargetNotFound), nil
	}
	w.add(targetDoc)
	target, _ := w.get(targetDoc.ID)

	index := intent.TargetIndex
	if index < 0 {
		index = 0
	}
	if err := w.relocate(intent.PageIDs, target, index, false); err != nil {
		return Result{}, fmt.Errorf("move into %s: %w", target.ID, err)
	}
	w.touch(target.ID)

	return succeed(intent, w.updates(target.ID), MsgMoveSuccess, map[string]any{
		"count":        len(intent.PageIDs),
		"documentName": target.Name,
	}), nil
}

func (e *Engine) deletePages(docs Documents, intent Intent) (Result, error) {
	w := newWorkingSet()
	w.resolve(docs, intent.PageIDs, nil)
	if len(w.order) == 0 {
		return fail(intent.Action, ErrNoDocuments, MsgNoDocuments), nil
	}

	for _, pageID := range intent.PageIDs {
		if _, _, err := w.detach(pageID, ""); err != nil {
			return Result{}, fmt.Errorf("delete pages: %w", err)
		}
	}

	return succeed(intent, w.updates(), MsgDeleteSuccess, map[string]any{
		"count": len(intent.PageIDs),
	}), nil
}

func (e *Engine) resolve(docs Documents, intent Intent) (Result, error) {
	return e.eachContextDocument(docs, intent, MsgResolveSuccess, func(doc *docstate.Document) {
		doc.MarkAsResolved = true
		doc.VerificationStatus = docstate.ManualValid
		doc.RejectedReasonID = ""
	})
}

func (e *Engine) reject(docs Documents, intent Intent) (Result, error) {
	return e.eachContextDocument(docs, intent, MsgRejectSuccess, func(doc *docstate.Document) {
		doc.ClassificationConfidence = 1
		doc.MarkAsResolved = false
		doc.VerificationStatus = docstate.ManualValid
		doc.RejectedReasonID = intent.RejectedReasonID
		doc.RejectNote = intent.RejectNote
	})
}

func (e *Engine) changeClass(docs Documents, classes []docstate.DocumentClass, intent Intent) (Result, error) {
	var class *docstate.DocumentClass
	for i := range classes {
		if classes[i].ID == intent.ClassID {
			found := classes[i]
			class = &found
			break
		}
	}
	if class == nil {
		return fail(intent.Action, ErrClassNotFound, MsgClassNotFound), nil
	}

	return e.eachContextDocument(docs, intent, MsgClassChangeSuccess, func(doc *docstate.Document) {
		assigned := *class
		doc.Class = &assigned
		doc.ClassificationConfidence = 1
		doc.VerificationStatus = docstate.ManualValid
		doc.RejectedReasonID = ""
		doc.MarkAsResolved = false
	})
}

func (e *Engine) eachContextDocument(docs Documents, intent Intent, message string, mutate func(*docstate.Document)) (Result, error) {
	w := newWorkingSet()
	w.resolve(docs, intent.PageIDs, intent.DocumentIDs)
	if len(w.order) == 0 {
		return fail(intent.Action, ErrNoDocuments, MsgNoDocuments), nil
	}
	for _, id := range w.order {
		doc, _ := w.get(id)
		mutate(doc)
		w.touch(id)
	}
	return succeed(intent, w.updates(), message, map[string]any{
		"count": len(w.order),
	}), nil
}

func (e *Engine) freshID(docs Documents) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := e.newID()
		if id == "" {
			continue
		}
		if _, taken := docs.Document(id); !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate document id: no free id after %d attempts", maxIDAttempts)
}

func succeed(intent Intent, updates []docstate.StateUpdate, message string, args map[string]any) Result {
	pageIDs := append([]string{}, intent.PageIDs...)
	return Result{Success: &Success{
		DocAction:           intent.Action,
		CanUndo:             !intent.NoUndo,
		Updates:             updates,
		ContextPageIDs:      pageIDs,
		NotificationMessage: message,
		MessageArgs:         args,
	}}
}

func fail(action DocAction, err error, message string) Result {
	return Result{Failure: &Failure{DocAction: action, Err: err, NotificationMessage: message}}
}
