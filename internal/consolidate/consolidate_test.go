package consolidate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/packingslipsorter/internal/models"
	"github.com/Lllllllleong/packingslipsorter/internal/pdfio/pdfiotest"
)

func grouped(orderID, sku string, pages ...int) models.GroupedDocument {
	key := models.GroupKey(orderID, sku)
	return models.GroupedDocument{OrderID: orderID, SKU: sku, Key: key, Source: "slips.pdf", Pages: pages}
}

func keys(docs []models.GroupedDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Key
	}
	return out
}

func TestPlan_FirstSKUWinsPerOrder(t *testing.T) {
	buckets := Plan([]models.GroupedDocument{
		grouped("A", "X", 0),
		grouped("A", "Y", 1),
	})
	require.Len(t, buckets, 1)
	assert.Equal(t, "X", buckets[0].PrimarySKU)
	assert.Equal(t, []string{"A_X", "A_Y"}, keys(buckets[0].Members))
}

func TestPlan_MembersSortedByOrderID(t *testing.T) {
	buckets := Plan([]models.GroupedDocument{
		grouped("300", "X", 0),
		grouped("200", "Y", 1),
		grouped("100", "X", 2),
		grouped("200", "Z", 3),
		grouped("300", "Q", 4),
	})

	require.Len(t, buckets, 2)
	assert.Equal(t, "X", buckets[0].PrimarySKU)
	assert.Equal(t, []string{"100_X", "300_X", "300_Q"}, keys(buckets[0].Members))
	assert.Equal(t, "Y", buckets[1].PrimarySKU)
	assert.Equal(t, []string{"200_Y", "200_Z"}, keys(buckets[1].Members))
}

func TestPlan_EveryGroupInExactlyOneBucket(t *testing.T) {
	groups := []models.GroupedDocument{
		grouped("1", "A"), grouped("2", "B"), grouped("1", "C"),
		grouped("", "UNKNOWN_3"), grouped("3", "A"), grouped("2", "A"),
	}
	seen := make(map[string]int)
	for _, b := range Plan(groups) {
		for _, m := range b.Members {
			seen[m.Key]++
		}
	}
	require.Len(t, seen, len(groups))
	for k, n := range seen {
		assert.Equal(t, 1, n, k)
	}
}

func TestPlan_Deterministic(t *testing.T) {
	groups := []models.GroupedDocument{
		grouped("9", "B"), grouped("1", "A"), grouped("5", "B"), grouped("1", "C"),
	}
	assert.Equal(t, Plan(groups), Plan(groups))
}

func TestPrimarySKUs_NullOrderID(t *testing.T) {
	primary := PrimarySKUs([]models.GroupedDocument{grouped("", "S1"), grouped("", "S2")})
	assert.Equal(t, map[string]string{models.NoOrderID: "S1"}, primary)
}

// writeGroups persists fake grouped documents, one page per listed page index.
func writeGroups(t *testing.T, dir string, groups []models.GroupedDocument) []models.GroupedDocument {
	t.Helper()
	src := filepath.Join(dir, "slips.pdf")
	require.NoError(t, pdfiotest.WriteSource(src, 10))
	w := &pdfiotest.Writer{}
	for i := range groups {
		groups[i].Path = filepath.Join(dir, "sorted", groups[i].Name())
		require.NoError(t, w.WritePages(context.Background(), src, groups[i].Pages, groups[i].Path))
	}
	return groups
}

func TestConsolidator_Run(t *testing.T) {
	dir := t.TempDir()
	groups := writeGroups(t, dir, []models.GroupedDocument{
		grouped("1002", "X", 0, 1),
		grouped("1001", "X", 2),
		grouped("1002", "Y", 3),
		grouped("1003", "Z", 4, 5),
	})

	var progress []int
	out := filepath.Join(dir, "consolidated")
	docs, err := NewConsolidator(&pdfiotest.Writer{}, nil).Run(context.Background(), groups, out, func(done, total int) {
		assert.Equal(t, 2, total)
		progress = append(progress, done)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, progress)

	require.Len(t, docs, 2)
	assert.Equal(t, "X.pdf", docs[0].Name())
	assert.Equal(t, 4, docs[0].PageCount)
	pages, err := pdfiotest.ReadPages(docs[0].Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"slips.pdf#2", "slips.pdf#0", "slips.pdf#1", "slips.pdf#3"}, pages)

	assert.Equal(t, "Z.pdf", docs[1].Name())
	assert.Equal(t, 2, docs[1].PageCount)
}

func TestConsolidator_ExcludesCorruptGroups(t *testing.T) {
	dir := t.TempDir()
	groups := writeGroups(t, dir, []models.GroupedDocument{
		grouped("1", "X", 0),
		grouped("1", "Y", 1),
		grouped("2", "Z", 2),
	})
	fake := &pdfiotest.Writer{Corrupt: []string{"1_Y.pdf", "2_Z.pdf"}}

	docs, err := NewConsolidator(fake, nil).Run(context.Background(), groups, filepath.Join(dir, "out"), nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []string{"1_X"}, keys(docs[0].Members))
	assert.Equal(t, 1, docs[0].PageCount)
}

func TestConsolidator_MergeFailureSkipsBucket(t *testing.T) {
	dir := t.TempDir()
	groups := writeGroups(t, dir, []models.GroupedDocument{grouped("1", "X", 0), grouped("2", "Y", 1)})
	fake := &pdfiotest.Writer{FailMerge: []string{"X.pdf"}}

	docs, err := NewConsolidator(fake, nil).Run(context.Background(), groups, filepath.Join(dir, "out"), nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Y", docs[0].PrimarySKU)
}

func TestConsolidator_AllFailedIsAnError(t *testing.T) {
	dir := t.TempDir()
	groups := writeGroups(t, dir, []models.GroupedDocument{grouped("1", "X", 0)})
	fake := &pdfiotest.Writer{Corrupt: []string{".pdf"}}

	_, err := NewConsolidator(fake, nil).Run(context.Background(), groups, filepath.Join(dir, "out"), nil)
	assert.Error(t, err)
}
