package signaling

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func newJar(t *testing.T, site string, cookies ...*http.Cookie) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, err := url.Parse(site)
	require.NoError(t, err)
	jar.SetCookies(u, cookies)
	return jar
}
