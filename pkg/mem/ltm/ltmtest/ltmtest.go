// Package ltmtest is a conformance suite shared by the ltm.Store adapters.
package ltmtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/aimemory/pkg/mem/ltm"
	"github.com/lexlapax/aimemory/pkg/scope"
)

// Factory opens the store for storeID. All stores returned by one Factory
// share the same backing database.
type Factory func(storeID string) ltm.Store

// Run exercises an adapter. newFactory is called once per subtest so every
// subtest starts from an empty backing database.
func Run(t *testing.T, newFactory func(t *testing.T) Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, open Factory)
	}{
		{"InsertAssignsIdentity", testInsertAssignsIdentity},
		{"RoundTrip", testRoundTrip},
		{"ScanScoping", testScanScoping},
		{"ScanNewestFirst", testScanNewestFirst},
		{"DeleteOldest", testDeleteOldest},
		{"DeleteOldestTieBreak", testDeleteOldestTieBreak},
		{"Clear", testClear},
		{"NamespaceIsolation", testNamespaceIsolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newFactory(t))
		})
	}
}

var base = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func record(content string, sc scope.Scope, owner string, at time.Time) ltm.MemoryRecord {
	return ltm.MemoryRecord{
		Content:   content,
		Scope:     sc,
		Owner:     owner,
		CreatedAt: at,
		Embedding: []float32{0.6, 0.8},
		Metadata:  ltm.NewMetadata(sc, owner, at),
	}
}

func open(t *testing.T, f Factory, storeID string) ltm.Store {
	s := f(storeID)
	t.Cleanup(func() { s.Close() })
	return s
}

func contents(records []ltm.MemoryRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Content
	}
	return out
}

func testInsertAssignsIdentity(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f, "default")

	a, err := s.Insert(ctx, record("first", scope.Common, "", base))
	require.NoError(t, err)
	b, err := s.Insert(ctx, record("second", scope.Common, "", base))
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "default", a.StoreID)
	assert.Greater(t, b.Seq, a.Seq)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testRoundTrip(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f, "default")

	in := record("The user likes pizza", scope.Private, "agentA", base.Add(1500*time.Millisecond))
	in.ID = "fixed-id"
	_, err := s.Insert(ctx, in)
	require.NoError(t, err)

	empty := record("unsearchable", scope.Common, "", base)
	empty.Embedding = nil
	_, err = s.Insert(ctx, empty)
	require.NoError(t, err)

	got, err := s.Scan(ctx, "agentA")
	require.NoError(t, err)
	require.Len(t, got, 2)

	r := got[0]
	assert.Equal(t, "fixed-id", r.ID)
	assert.Equal(t, "The user likes pizza", r.Content)
	assert.Equal(t, scope.Private, r.Scope)
	assert.Equal(t, "agentA", r.Owner)
	assert.True(t, in.CreatedAt.Equal(r.CreatedAt), "created_at %s != %s", in.CreatedAt, r.CreatedAt)
	assert.Equal(t, []float32{0.6, 0.8}, r.Embedding)
	assert.Equal(t, "private", r.Metadata["scope"])
	assert.Equal(t, "agentA", r.Metadata["owner"])
	assert.Equal(t, ltm.MetadataType, r.Metadata["type"])

	assert.Empty(t, got[1].Embedding)
	assert.Empty(t, got[1].Owner)
}

func testScanScoping(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f, "default")

	for i, r := range []ltm.MemoryRecord{
		record("a-private", scope.Private, "agentA", base.Add(1*time.Second)),
		record("b-private", scope.Private, "agentB", base.Add(2*time.Second)),
		record("shared", scope.Common, "", base.Add(3*time.Second)),
	} {
		_, err := s.Insert(ctx, r)
		require.NoError(t, err, "insert %d", i)
	}

	got, err := s.Scan(ctx, "agentA")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a-private", "shared"}, contents(got))

	got, err = s.Scan(ctx, "agentB")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b-private", "shared"}, contents(got))

	got, err = s.Scan(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, contents(got))

	got, err = s.Scan(ctx, "agentC")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, contents(got))
}

func testScanNewestFirst(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f, "default")

	for i, c := range []string{"one", "two", "three"} {
		_, err := s.Insert(ctx, record(c, scope.Common, "", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	got, err := s.Scan(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "two", "one"}, contents(got))
}

func testDeleteOldest(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f, "default")

	id, err := s.DeleteOldest(ctx)
	require.NoError(t, err)
	assert.Empty(t, id, "empty store")

	// Inserted out of timestamp order; eviction follows created_at.
	mid, err := s.Insert(ctx, record("mid", scope.Common, "", base.Add(time.Minute)))
	require.NoError(t, err)
	old, err := s.Insert(ctx, record("old", scope.Common, "", base))
	require.NoError(t, err)
	_, err = s.Insert(ctx, record("new", scope.Common, "", base.Add(2*time.Minute)))
	require.NoError(t, err)

	id, err = s.DeleteOldest(ctx)
	require.NoError(t, err)
	assert.Equal(t, old.ID, id)

	id, err = s.DeleteOldest(ctx)
	require.NoError(t, err)
	assert.Equal(t, mid.ID, id)

	got, err := s.Scan(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, contents(got))
}

func testDeleteOldestTieBreak(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f, "default")

	first, err := s.Insert(ctx, record("first", scope.Common, "", base))
	require.NoError(t, err)
	_, err = s.Insert(ctx, record("second", scope.Common, "", base))
	require.NoError(t, err)

	id, err := s.DeleteOldest(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, id)
}

func testClear(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f, "default")

	for _, c := range []string{"a", "b", "c"} {
		_, err := s.Insert(ctx, record(c, scope.Private, "agentA", base))
		require.NoError(t, err)
	}

	n, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	got, err := s.Scan(ctx, "agentA")
	require.NoError(t, err)
	assert.Empty(t, got)

	// The store stays usable
	_, err = s.Insert(ctx, record("d", scope.Common, "", base))
	require.NoError(t, err)
}

func testNamespaceIsolation(t *testing.T, f Factory) {
	ctx := context.Background()
	kitchen := open(t, f, "kitchen")
	garage := open(t, f, "garage")

	_, err := kitchen.Insert(ctx, record("pizza dough recipe", scope.Common, "", base))
	require.NoError(t, err)
	_, err = garage.Insert(ctx, record("door code 1234", scope.Common, "", base))
	require.NoError(t, err)

	got, err := kitchen.Scan(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"pizza dough recipe"}, contents(got))

	n, err := garage.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := kitchen.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	id, err := garage.DeleteOldest(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}
