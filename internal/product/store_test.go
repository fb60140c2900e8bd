package product_test

import (
	"testing"

	"github.com/power-plant/powerplant/internal/product"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(v bool) *bool       { return &v }
func strPtr(v string) *string    { return &v }
func strsPtr(v []string) *[]string { return &v }

func Test_ListQuery_NoFilter(t *testing.T) {
	t.Parallel()

	query, args, err := product.ListQuery(product.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM products ORDER BY created_at DESC", query)
	assert.Empty(t, args)
}

func Test_ListQuery_FullFilter(t *testing.T) {
	t.Parallel()

	query, args, err := product.ListQuery(product.Filter{
		IsDownloaded: boolPtr(true),
		IsProcessing: boolPtr(false),
		Limit:        25,
		Offset:       50,
	})
	require.NoError(t, err)
	assert.Contains(t, query, "is_downloaded = $1")
	assert.Contains(t, query, "is_processing = $2")
	assert.Contains(t, query, "LIMIT 25")
	assert.Contains(t, query, "OFFSET 50")
	assert.Equal(t, []interface{}{true, false}, args)
}

func Test_UpdateQuery_NoChanges(t *testing.T) {
	t.Parallel()

	query, args, err := product.UpdateQuery("ABC-123", product.Changes{})
	require.NoError(t, err)
	assert.Empty(t, query)
	assert.Empty(t, args)
}

func Test_UpdateQuery_PartialChanges(t *testing.T) {
	t.Parallel()

	query, args, err := product.UpdateQuery("ABC-123", product.Changes{
		Title:       strPtr("New Title"),
		DownloadURL: strPtr("magnet:?xt=urn:btih:abc"),
	})
	require.NoError(t, err)
	assert.Contains(t, query, "UPDATE products")
	assert.Contains(t, query, "title = ")
	assert.Contains(t, query, "download_url = ")
	assert.NotContains(t, query, "casts")
	assert.Contains(t, query, "WHERE code = ")
	assert.Contains(t, args, "New Title")
	assert.Contains(t, args, "magnet:?xt=urn:btih:abc")
}

func Test_UpdateQuery_CastsOnly(t *testing.T) {
	t.Parallel()

	query, _, err := product.UpdateQuery("ABC-123", product.Changes{
		Casts: strsPtr([]string{"Some Person"}),
	})
	require.NoError(t, err)
	assert.Contains(t, query, "casts = ")
	assert.NotContains(t, query, "title = ")
}

func Test_HasDownloadSource(t *testing.T) {
	t.Parallel()

	assert.False(t, (&product.Product{}).HasDownloadSource())
	assert.False(t, (&product.Product{DownloadURL: strPtr("")}).HasDownloadSource())
	assert.True(t, (&product.Product{DownloadURL: strPtr("magnet:?xt=urn:btih:abc")}).HasDownloadSource())
}
