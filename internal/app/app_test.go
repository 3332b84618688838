package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfcheck/internal/platform/config"
	httptransport "shelfcheck/internal/transport/http"
	"shelfcheck/pkg/domain"
)

const listHTML = `<html><body>
<h1 class="title-1">Noir</h1>
<ul class="film-details-list">
<li class="film-detail">
  <div class="react-component poster film-poster" data-film-id="51" data-film-slug="the-third-man"></div>
  <h2 class="headline-2 prettify"><a href="/film/the-third-man/">The Third Man</a></h2>
</li>
<li class="film-detail">
  <div class="react-component poster film-poster" data-film-id="52" data-film-slug="laura"></div>
  <h2 class="headline-2 prettify"><a href="/film/laura/">Laura</a></h2>
</li>
</ul>
</body></html>`

const classicsHTML = `<html><body>
<h1 class="title-1">Classics</h1>
<ul class="film-details-list">
<li class="film-detail">
  <div class="react-component poster film-poster" data-film-id="52" data-film-slug="laura"></div>
  <h2 class="headline-2 prettify"><a href="/film/laura/">LAURA</a></h2>
</li>
<li class="film-detail">
  <div class="react-component poster film-poster" data-film-id="53" data-film-slug="gilda"></div>
  <h2 class="headline-2 prettify"><a href="/film/gilda/">Gilda</a></h2>
</li>
</ul>
</body></html>`

// queryLog counts catalog searches per lower-cased title.
type queryLog struct {
	mu     sync.Mutex
	counts map[string]int
}

func (q *queryLog) add(title string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counts[strings.ToLower(title)]++
}

func (q *queryLog) count(title string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[strings.ToLower(title)]
}

func newTestApp(t *testing.T) *httptest.Server {
	t.Helper()
	srv, _ := startApp(t)
	return srv
}

func startApp(t *testing.T) (*httptest.Server, *queryLog) {
	t.Helper()

	pages := map[string]string{
		"/jane/list/noir/detail/page/1":    listHTML,
		"/bob/list/classics/detail/page/1": classicsHTML,
	}
	letterboxd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, page)
	}))
	t.Cleanup(letterboxd.Close)

	queries := &queryLog{counts: map[string]int{}}
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseForm()) {
			return
		}
		title := r.PostForm.Get("advanced[TI]")
		queries.add(title)
		w.Header().Set("Content-Type", "application/json")
		switch title {
		case "The Third Man":
			_, _ = io.WriteString(w, `{"rows":[{"type":"single","full":{"title":"The Third Man","format":{"className":"dvd"}}}]}`)
		default:
			_, _ = io.WriteString(w, `{"rows":[]}`)
		}
	}))
	t.Cleanup(catalog.Close)

	cfg := config.Default()
	cfg.Catalogs = []config.Catalog{{ID: "Lib.Test", SearchURL: catalog.URL}}
	cfg.Letterboxd.BaseURL = letterboxd.URL
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	a, err := New(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Close(closeCtx))
	})

	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return srv, queries
}

// pendingOf reads a list's pending count, or -1 when it cannot be read.
func pendingOf(url string) int {
	resp, err := http.Get(url)
	if err != nil {
		return -1
	}
	defer resp.Body.Close()
	var list httptransport.ListResponse
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&list) != nil || list.Pending == nil {
		return -1
	}
	return *list.Pending
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	return resp
}

func TestResolveListEndToEnd(t *testing.T) {
	srv := newTestApp(t)
	base := srv.URL + "/lists/jane/noir"

	resp := post(t, base+"/load")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, base+"/availability")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	stream, err := client.Get(base + "/events")
	require.NoError(t, err)
	body, err := io.ReadAll(stream.Body)
	stream.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(body)), `data: {"pending":0}`),
		"stream ends once every slot resolves, got:\n%s", body)

	got, err := http.Get(base)
	require.NoError(t, err)
	defer got.Body.Close()
	var list httptransport.ListResponse
	require.NoError(t, json.NewDecoder(got.Body).Decode(&list))

	assert.Equal(t, "Noir", list.Title)
	assert.Equal(t, "lib.test", list.Catalog)
	require.NotNil(t, list.Pending)
	assert.Equal(t, 0, *list.Pending)
	assert.Equal(t, domain.Vector{{domain.TagDVD}, {}}, list.Availability)
}

func TestUnknownListIsNotFound(t *testing.T) {
	srv := newTestApp(t)

	resp := post(t, srv.URL+"/lists/jane/missing/load")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownCatalogIsRejected(t *testing.T) {
	srv := newTestApp(t)
	base := srv.URL + "/lists/jane/noir"

	resp := post(t, base+"/load")
	resp.Body.Close()

	resp = post(t, fmt.Sprintf("%s/availability?catalog=%s", base, "elsewhere.example.org"))
	defer resp.Body.Close()

	assert.GreaterOrEqual(t, resp.StatusCode, 400)
	assert.Less(t, resp.StatusCode, 500)
}

func TestSharedTitleIsQueriedOnce(t *testing.T) {
	srv, queries := startApp(t)
	lists := []string{srv.URL + "/lists/jane/noir", srv.URL + "/lists/bob/classics"}

	var wg sync.WaitGroup
	for _, base := range lists {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(base+"/availability", "application/json", nil)
			if !assert.NoError(t, err) {
				return
			}
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}()
	}
	wg.Wait()

	for _, base := range lists {
		require.Eventually(t, func() bool { return pendingOf(base) == 0 },
			10*time.Second, 20*time.Millisecond, "%s never resolved", base)
	}

	assert.Equal(t, 1, queries.count("laura"), "Laura and LAURA share one lookup")
	assert.Equal(t, 1, queries.count("gilda"))
	assert.Equal(t, 1, queries.count("the third man"))
}
