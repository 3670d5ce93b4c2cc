package resolve

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/CMSMIG/internal/domain"
)

func mediaTable(names ...string) *Table {
	var entries []Entry
	for i, n := range names {
		entries = append(entries, Entry{Keys: FileKeys(n, DefaultHashPrefixLen), ID: domain.NumID(int64(i + 1))})
	}
	return BuildTable(entries)
}

func TestResolve_URLExactMatch(t *testing.T) {
	r := New("media", mediaTable("foo.jpg"), Options{})

	res := r.Resolve("https://cdn.example.com/x/foo.jpg")
	require.True(t, res.OK())
	assert.Equal(t, domain.NumID(1), res.ID)
	assert.Equal(t, StrategyExact, res.Strategy)
	assert.Equal(t, "foo.jpg", res.Key)
}

func TestResolve_UnresolvedRecordedOnce(t *testing.T) {
	r := New("media", mediaTable("foo.jpg"), Options{})

	for i := 0; i < 3; i++ {
		res := r.Resolve("bar.png")
		assert.Equal(t, StatusUnresolved, res.Status)
		assert.True(t, res.ID.IsZero())
	}
	r.Resolve("https://x.test/a/BAR.png")
	assert.Equal(t, []string{"bar.png"}, r.Diagnostics().Unresolved())
}

func TestResolve_BlankNotRecorded(t *testing.T) {
	r := New("media", mediaTable("foo.jpg"), Options{})
	assert.Equal(t, StatusUnresolved, r.Resolve("  ").Status)
	assert.Empty(t, r.Diagnostics().Unresolved())
}

func TestBuildTable_FirstWriteWins(t *testing.T) {
	tbl := BuildTable([]Entry{
		{Keys: []string{"Dup"}, ID: domain.NumID(1)},
		{Keys: []string{"dup", "other"}, ID: domain.NumID(2)},
	})
	id, ok := tbl.Lookup("DUP")
	require.True(t, ok)
	assert.Equal(t, domain.NumID(1), id)
	assert.Equal(t, []string{"dup", "other"}, tbl.Keys())
	assert.False(t, tbl.Add("", domain.NumID(3)))
	assert.False(t, tbl.Add("x", domain.RefID{}))
}

func TestResolve_URLDecodingAndQuery(t *testing.T) {
	r := New("media", mediaTable("my photo.jpg"), Options{})
	res := r.Resolve("https://cdn.example.com/uploads/My%20Photo.JPG?w=300#top")
	require.True(t, res.OK())
	assert.Equal(t, domain.NumID(1), res.ID)
}

func TestResolve_StripExtension(t *testing.T) {
	tbl := BuildTable([]Entry{{Keys: []string{"sunset"}, ID: domain.NumID(7)}})
	r := New("media", tbl, Options{})

	res := r.Resolve("sunset.webp")
	require.True(t, res.OK())
	assert.Equal(t, StrategyNoExt, res.Strategy)
	assert.Equal(t, domain.NumID(7), res.ID)

	// "st. louis" 不是扩展名。
	assert.Equal(t, "st. louis", stripExt("st. louis"))
}

func TestResolve_HashPrefix(t *testing.T) {
	hash := "0123456789abcdef01234567"
	r := New("media", mediaTable("photo.jpg", hash+"_original.jpg"), Options{})

	res := r.Resolve("https://cdn.test/" + hash + "_resized_800.jpg")
	require.True(t, res.OK())
	assert.Equal(t, StrategyHashPrefix, res.Strategy)
	assert.Equal(t, domain.NumID(2), res.ID)
}

func TestResolve_HashPrefixLengthConfigurable(t *testing.T) {
	tbl := BuildTable([]Entry{{Keys: FileKeys("abcdef12_a.jpg", 8), ID: domain.NumID(3)}})

	short := New("media", tbl, Options{HashPrefixLen: 8})
	assert.True(t, short.Resolve("abcdef12_b.png").OK())

	off := New("media", tbl, Options{HashPrefixLen: -1})
	assert.False(t, off.Resolve("abcdef12_b.png").OK())
}

func TestResolve_FuzzyOffByDefault(t *testing.T) {
	tbl := BuildTable([]Entry{{Keys: NameKeys("Grand Palace Bangkok"), ID: domain.StrID("doc1")}})
	r := New("explores", tbl, Options{})
	assert.Equal(t, StatusUnresolved, r.Resolve("grand palace").Status)
}

func TestResolve_FuzzyFirstIsDeterministic(t *testing.T) {
	tbl := BuildTable([]Entry{
		{Keys: NameKeys("Old Town Square"), ID: domain.StrID("a")},
		{Keys: NameKeys("Old Town Hall"), ID: domain.StrID("b")},
	})
	r := New("explores", tbl, Options{Fuzzy: FuzzyFirst})
	for i := 0; i < 5; i++ {
		res := r.Resolve("old town")
		require.True(t, res.OK())
		assert.Equal(t, domain.StrID("a"), res.ID)
		assert.Equal(t, StrategyFuzzy, res.Strategy)
	}
}

func TestResolve_FuzzyUniqueReportsAmbiguity(t *testing.T) {
	tbl := BuildTable([]Entry{
		{Keys: NameKeys("Old Town Square"), ID: domain.StrID("b")},
		{Keys: NameKeys("Old Town Hall"), ID: domain.StrID("a")},
		{Keys: NameKeys("Riverside Market"), ID: domain.StrID("c")},
	})
	r := New("explores", tbl, Options{Fuzzy: FuzzyUnique})

	res := r.Resolve("Old Town")
	assert.Equal(t, StatusAmbiguous, res.Status)
	assert.True(t, res.ID.IsZero())
	assert.Equal(t, []domain.RefID{domain.StrID("a"), domain.StrID("b")}, res.Candidates)

	res = r.Resolve("riverside")
	require.True(t, res.OK())
	assert.Equal(t, domain.StrID("c"), res.ID)

	amb := r.Diagnostics().Ambiguous()
	require.Len(t, amb, 1)
	assert.Equal(t, "old town", amb[0].Key)
	assert.Empty(t, r.Diagnostics().Unresolved())
}

func TestResolve_FuzzyIgnoresShortValues(t *testing.T) {
	tbl := BuildTable([]Entry{{Keys: NameKeys("Bangkok"), ID: domain.StrID("a")}})
	r := New("cities", tbl, Options{Fuzzy: FuzzyFirst})
	assert.False(t, r.Resolve("ban").OK())
}

func TestNameKeys_AccentFolding(t *testing.T) {
	assert.Equal(t, []string{"café de flore", "cafe de flore"}, NameKeys(" Café de Flore "))
	assert.Equal(t, []string{"plain"}, NameKeys("Plain"))

	tbl := BuildTable([]Entry{{Keys: NameKeys("Café"), ID: domain.StrID("x")}})
	r := New("restaurants", tbl, Options{})
	assert.True(t, r.Resolve("cafe").OK())
	assert.True(t, r.Resolve("CAFÉ").OK())
}

func TestFileKeys(t *testing.T) {
	hash := "0123456789abcdef01234567"
	assert.Equal(t, []string{hash + "_x.jpg", hash + "_x", hash}, FileKeys(hash+"_X.jpg", 24))
	assert.Equal(t, []string{"a.jpg", "a"}, FileKeys("A.jpg", 24))
	assert.Nil(t, FileKeys("  ", 24))
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"https://cdn.example.com/x/foo.jpg": "foo.jpg",
		"//cdn.example.com/a/B%C3%A9.png":   "bé.png",
		"https://example.com/dir/":          "dir",
		"https://example.com":               "",
		"http://x/":                         "",
		"  Some Slug ":                      "some slug",
		"relative/path.jpg":                 "relative/path.jpg",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestResolver_URLWithoutPathIsUnresolved(t *testing.T) {
	r := New("media", mediaTable("x", "cdn.example.com.jpg"), Options{Fuzzy: FuzzyFirst})

	for _, in := range []string{"http://x/", "https://cdn.example.com"} {
		res := r.Resolve(in)
		assert.Equal(t, StatusUnresolved, res.Status, "input %q", in)
		assert.True(t, res.ID.IsZero(), "input %q", in)
	}
	assert.Equal(t, []string{"http://x/", "https://cdn.example.com"}, r.Diagnostics().Unresolved())
}

func TestParseFuzzyMode(t *testing.T) {
	m, err := ParseFuzzyMode("")
	require.NoError(t, err)
	assert.Equal(t, FuzzyOff, m)

	m, err = ParseFuzzyMode("Unique")
	require.NoError(t, err)
	assert.Equal(t, FuzzyUnique, m)

	_, err = ParseFuzzyMode("sometimes")
	assert.Error(t, err)
}

func TestResolver_ConcurrentUse(t *testing.T) {
	r := New("media", mediaTable("foo.jpg"), Options{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Resolve("foo.jpg")
			r.Resolve(fmt.Sprintf("missing-%d.png", i%4))
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.Diagnostics().Unresolved(), 4)
}
