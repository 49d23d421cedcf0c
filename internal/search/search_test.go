package search

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"classverify/internal/docstate"
	"classverify/internal/taskdata"
)

type fakeSearcher struct {
	results []Result
	err     error
	got     Query
}

func (f *fakeSearcher) Search(q Query) ([]Result, int, error) {
	f.got = q
	return f.results, len(f.results), f.err
}

func (f *fakeSearcher) Healthy() bool { return true }

func TestRecords(t *testing.T) {
	data := taskdata.TaskData{
		DocumentClasses: []docstate.DocumentClass{{ID: "invoice", Name: "Invoice"}},
		Documents: []taskdata.Document{
			{ID: "A", Name: "March", ClassID: "invoice", Pages: []taskdata.Page{{ContentFileReferenceIndex: 0, SourcePageIndex: 0}, {ContentFileReferenceIndex: 0, SourcePageIndex: 1}}},
			{ID: "B", Name: "Blurry", MarkAsRejected: true, RejectedReasonID: "blurry", RejectNote: "rescan"},
		},
	}

	records := Records("batch/7", data)
	require.Len(t, records, 2)
	assert.Equal(t, "batch-7__A", records[0].ID)
	assert.Equal(t, "Invoice", records[0].ClassName)
	assert.Equal(t, 2, records[0].PageCount)
	assert.True(t, records[1].Rejected)
	assert.Equal(t, "rescan", records[1].RejectNote)
}

func TestRecordIDSanitizes(t *testing.T) {
	assert.Equal(t, "t-1__doc_2", RecordID("t.1", "doc_2"))
	assert.Equal(t, "a-b__c-d", RecordID("a b", "c:d"))
}

func TestServiceFallsBackToPG(t *testing.T) {
	pg := &fakeSearcher{results: []Result{{Type: ResultDocument, ID: "t__A", Title: "March"}}}
	svc := NewService(nil, pg, zaptest.NewLogger(t))

	resp := svc.Search(Query{Text: "march", TaskID: "t"})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "march", resp.Query)
	assert.Equal(t, "t", pg.got.TaskID)
}

func TestServiceSearchErrorReturnsEmpty(t *testing.T) {
	svc := NewService(nil, &fakeSearcher{err: errors.New("boom")}, zaptest.NewLogger(t))
	resp := svc.Search(Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestServiceWithoutBackends(t *testing.T) {
	svc := NewService(nil, nil, nil)
	resp := svc.Search(Query{Text: "x"})
	assert.Empty(t, resp.Results)
	svc.IndexTask("t", nil, nil)
}

func TestPgftsWhere(t *testing.T) {
	where, args := pgftsWhere(Query{Text: "march", TaskID: "t1", ClassID: "invoice", OnlyRejected: true})
	assert.Equal(t, "td.fts @@ plainto_tsquery('simple', $1) AND td.task_id = $2 AND td.class_id = $3 AND td.rejected", where)
	assert.Equal(t, []any{"march", "t1", "invoice"}, args)
}

func TestMeiliFilters(t *testing.T) {
	assert.Nil(t, meiliFilters(Query{Text: "x"}))
	assert.Equal(t, []string{`taskId = "t1"`, "rejected = true"}, meiliFilters(Query{TaskID: "t1", OnlyRejected: true}))
}
