package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCookiesSkipsMalformedFragments(t *testing.T) {
	t.Parallel()

	cookies := ParseCookies(`li_at=abc123; JSESSIONID="ajax:42"; ; noequals; =orphan`)
	require.Len(t, cookies, 2)
	assert.Equal(t, Cookie{Name: "li_at", Value: "abc123"}, cookies[0])
	assert.Equal(t, Cookie{Name: "JSESSIONID", Value: `"ajax:42"`}, cookies[1])
}

func TestCSRFTokenStripsQuotes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ajax:42", CSRFToken(`li_at=abc; JSESSIONID="ajax:42"`))
	assert.Equal(t, "ajax:42", CSRFToken(`JSESSIONID=ajax:42`))
	assert.Empty(t, CSRFToken("li_at=abc"))
	assert.Empty(t, CSRFToken(""))
}

func TestSearchParamsRequireBothValues(t *testing.T) {
	t.Parallel()

	keywords, sid, ok := SearchParams("https://www.linkedin.com/search/results/people/?keywords=golang&sid=xyz")
	require.True(t, ok)
	assert.Equal(t, "golang", keywords)
	assert.Equal(t, "xyz", sid)

	_, _, ok = SearchParams("https://www.linkedin.com/search/results/people/?keywords=golang")
	assert.False(t, ok)

	_, _, ok = SearchParams("https://www.linkedin.com/search/results/people/?sid=xyz")
	assert.False(t, ok)

	_, _, ok = SearchParams("://bad-url")
	assert.False(t, ok)
}
