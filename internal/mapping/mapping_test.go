package mapping

import (
	"testing"

	"github.com/goliatone/go-slug"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/CMSMIG/internal/blocks"
	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/infra/csvx"
	"github.com/John-Robertt/CMSMIG/internal/resolve"
)

func testResolvers() map[string]*resolve.Resolver {
	media := resolve.BuildTable([]resolve.Entry{
		{Keys: resolve.FileKeys("hero.jpg", 24), ID: domain.NumID(11)},
		{Keys: resolve.FileKeys("author.png", 24), ID: domain.NumID(12)},
	})
	blogs := resolve.BuildTable([]resolve.Entry{
		{Keys: resolve.NameKeys("paris"), ID: domain.StrID("doc-paris")},
		{Keys: resolve.NameKeys("rome"), ID: domain.StrID("doc-rome")},
	})
	return map[string]*resolve.Resolver{
		"media":      resolve.New("media", media, resolve.Options{}),
		"city_blogs": resolve.New("city_blogs", blogs, resolve.Options{}),
	}
}

func row(vals map[string]string) csvx.Row { return csvx.Row{Index: 1, Line: 2, Values: vals} }

func TestMapper_Map_AllKinds(t *testing.T) {
	fields := []Field{
		{Name: "Title", Column: "Title", Type: KindString},
		{Name: "Slug", Column: "Slug", Type: KindSlug, From: "Title"},
		{Name: "Number_of_Spots", Column: "# of spots", Type: KindInt, Default: 0},
		{Name: "Visitor_Count", Column: "Visitors", Type: KindInt, AsString: true},
		{Name: "Rating", Column: "Rating", Type: KindFloat},
		{Name: "Featured", Column: "Featured", Type: KindBool},
		{Name: "Sitemap_Indexing", Type: KindConst, Value: true},
		{Name: "Overview", Column: "Overview", Type: KindBlocks},
		{Name: "Notes", Column: "Notes", Type: KindMarkdown},
		{Name: "Image", Column: "Image", Type: KindMedia, Ref: "media"},
		{Name: "Gallery", Column: "Gallery", Type: KindMediaList, Ref: "media"},
		{Name: "City_blogs", Column: "City Blogs", Type: KindRelationList, Ref: "City_Blogs", First: true},
		{Name: "Related", Column: "City Blogs", Type: KindRelationList, Ref: "city_blogs"},
		{Name: "Author", Column: "Author", Type: KindString},
	}
	m, err := New(fields, testResolvers())
	require.NoError(t, err)

	res := m.Map(row(map[string]string{
		"Title":      "Hello World",
		"# of spots": "Top 5 AI Travel Recommendations",
		"Visitors":   "2.5k",
		"Rating":     "4.5",
		"Featured":   "Yes",
		"Overview":   "<h2>T</h2><p>B</p>",
		"Notes":      "- a\n- b",
		"Image":      "https://cdn.example.com/x/hero.jpg",
		"Gallery":    "hero.jpg; author.png ;hero.jpg;missing.jpg",
		"City Blogs": "rome;paris",
	}))

	r := res.Record
	assert.Equal(t, "Hello World", r["Title"])
	assert.NotEmpty(t, r["Slug"])
	assert.True(t, slug.IsValid(r["Slug"].(string)))
	assert.Equal(t, int64(5), r["Number_of_Spots"])
	assert.Equal(t, "2500", r["Visitor_Count"])
	assert.Equal(t, 4.5, r["Rating"])
	assert.Equal(t, true, r["Featured"])
	assert.Equal(t, true, r["Sitemap_Indexing"])
	assert.Equal(t, blocks.Nodes([]domain.Block{domain.Heading(2, "T"), domain.Paragraph("B")}), r["Overview"])
	assert.Equal(t, blocks.Nodes([]domain.Block{domain.List(false, "a", "b")}), r["Notes"])
	assert.Equal(t, domain.NumID(11), r["Image"])
	assert.Equal(t, []domain.RefID{domain.NumID(11), domain.NumID(12)}, r["Gallery"])
	assert.Equal(t, domain.StrID("doc-rome"), r["City_blogs"])
	assert.Equal(t, []domain.RefID{domain.StrID("doc-rome"), domain.StrID("doc-paris")}, r["Related"])
	assert.NotContains(t, r, "Author")

	assert.Equal(t, []domain.Issue{{Field: "Gallery", Code: domain.IssueUnresolvedRef, Value: "missing.jpg"}}, res.Issues)
}

func TestMapper_Map_EmptyAndInvalid(t *testing.T) {
	fields := []Field{
		{Name: "Count", Column: "Count", Type: KindInt, Default: 0},
		{Name: "Price", Column: "Price", Type: KindFloat},
		{Name: "Open", Column: "Open", Type: KindBool},
		{Name: "Body", Column: "Body", Type: KindBlocks},
		{Name: "Image", Column: "Image", Type: KindMedia, Ref: "media"},
		{Name: "Slug", Column: "Slug", Type: KindSlug},
	}
	m, err := New(fields, testResolvers())
	require.NoError(t, err)

	res := m.Map(row(map[string]string{
		"Count": "n/a",
		"Price": "cheap",
		"Open":  "maybe",
		"Image": "nope.jpg",
		"Slug":  "given-slug",
	}))
	assert.Equal(t, domain.Record{"Count": 0, "Slug": "given-slug"}, res.Record)
	assert.Equal(t, []domain.Issue{
		{Field: "Count", Code: domain.IssueInvalidValue, Value: "n/a"},
		{Field: "Price", Code: domain.IssueInvalidValue, Value: "cheap"},
		{Field: "Open", Code: domain.IssueInvalidValue, Value: "maybe"},
		{Field: "Image", Code: domain.IssueUnresolvedRef, Value: "nope.jpg"},
	}, res.Issues)
	assert.Equal(t, []string{"nope.jpg"}, testResolversDiag(m, "media"))
}

func TestMapper_Map_IntSignAndRange(t *testing.T) {
	m, err := New([]Field{
		{Name: "Delta", Column: "Delta", Type: KindInt},
		{Name: "Huge", Column: "Huge", Type: KindInt},
	}, nil)
	require.NoError(t, err)

	res := m.Map(row(map[string]string{"Delta": "-5", "Huge": "99999999999999999m"}))
	assert.Equal(t, domain.Record{"Delta": int64(-5)}, res.Record)
	assert.Equal(t, []domain.Issue{{Field: "Huge", Code: domain.IssueInvalidValue, Value: "99999999999999999m"}}, res.Issues)
}

func testResolversDiag(m *Mapper, name string) []string {
	return m.resolvers[name].Diagnostics().Unresolved()
}

func TestMapper_Map_AmbiguousIssue(t *testing.T) {
	tbl := resolve.BuildTable([]resolve.Entry{
		{Keys: resolve.NameKeys("old town square"), ID: domain.StrID("a")},
		{Keys: resolve.NameKeys("old town hall"), ID: domain.StrID("b")},
	})
	rs := map[string]*resolve.Resolver{"spots": resolve.New("spots", tbl, resolve.Options{Fuzzy: resolve.FuzzyUnique})}
	m, err := New([]Field{{Name: "Spot", Column: "Spot", Type: KindRelation, Ref: "spots"}}, rs)
	require.NoError(t, err)

	res := m.Map(row(map[string]string{"Spot": "Old Town"}))
	assert.Empty(t, res.Record)
	assert.Equal(t, []domain.Issue{{Field: "Spot", Code: domain.IssueAmbiguousRef, Value: "old town"}}, res.Issues)
}

func TestNew_RejectsUnknownRef(t *testing.T) {
	_, err := New([]Field{{Name: "Image", Column: "Image", Type: KindMedia, Ref: "nope"}}, testResolvers())
	assert.Error(t, err)

	_, err = New([]Field{{Column: "x", Type: KindString}}, nil)
	assert.Error(t, err)
}

func TestParseCount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1,234", 1234, true},
		{"2.5k", 2500, true},
		{"1M visitors", 1000000, true},
		{"Top 2 AI Travel Recommendations", 2, true},
		{"5 Museums", 5, true},
		{"none", 0, false},
		{"-5", -5, true},
		{"Change: -2.5k", -2500, true},
		{"Top-5 spots", 5, true},
		{"9223372036854775807", 9223372036854775807, true},
		{"9223372036854775808", 0, false},
		{"99999999999999999m", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseCount(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}
