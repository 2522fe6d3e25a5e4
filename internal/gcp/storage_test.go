package gcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("SORTER_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("SORTER_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("SORTER_TEST_UNSET_VALUE", "fallback"))
}

func TestParseRef(t *testing.T) {
	bucket, object, err := ParseRef("gs://sorted/jobs/abc/consolidated_pdfs.zip")
	require.NoError(t, err)
	assert.Equal(t, "sorted", bucket)
	assert.Equal(t, "jobs/abc/consolidated_pdfs.zip", object)

	for _, bad := range []string{"", "consolidated_pdfs.zip", "gs://", "gs://bucket", "gs://bucket/", "s3://b/o"} {
		_, _, err := ParseRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/zip", contentType("jobs/a/x.zip"))
	assert.Equal(t, "application/pdf", contentType("a.pdf"))
	assert.Equal(t, "application/octet-stream", contentType("outputs.txt"))
}
