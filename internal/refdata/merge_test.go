package refdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/resolve"
)

func TestMergeMedia_AppendsNewIDsOnly(t *testing.T) {
	existing := []byte(`{"data": [{"id": 7, "name": "old-town.jpg", "alternativeText": "walls"}]}`)
	b, added, err := MergeMedia(existing, []MediaFile{
		{ID: domain.NumID(7), Name: "old-town.jpg"},
		{ID: domain.NumID(9), Name: "harbour.png", URL: "/uploads/harbour_1a2b.png"},
		{ID: domain.NumID(9), Name: "harbour.png"},
		{Name: "no-id.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.JSONEq(t, `[
		{"id": 7, "name": "old-town.jpg", "alternativeText": "walls"},
		{"id": 9, "name": "harbour.png", "url": "/uploads/harbour_1a2b.png"}
	]`, string(b))

	entries, _, err := Load(b, Source{Name: "media", Kind: KindMedia, HashPrefixLen: 24})
	require.NoError(t, err)
	r := resolve.New("media", resolve.BuildTable(entries), resolve.Options{})
	res := r.Resolve("https://cdn.example.com/uploads/harbour.png")
	require.True(t, res.OK())
	assert.Equal(t, domain.NumID(9), res.ID)
}

func TestMergeMedia_EmptyExisting(t *testing.T) {
	b, added, err := MergeMedia(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.JSONEq(t, `[]`, string(b))

	_, _, err = MergeMedia([]byte(`{not json`), nil)
	assert.Error(t, err)
}
