package linksapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/vnahornyi/check-uz-tickets/internal/models"
	"github.com/vnahornyi/check-uz-tickets/internal/services/links"
	"github.com/vnahornyi/check-uz-tickets/internal/storage/pglinks"
)

const validLink = "https://booking.uz.gov.ua/search-trips/2200001/2218000/list?startDate=2025-05-10"

type fakeRepo struct {
	links map[uint64]*models.TrackedLink
	next  uint64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{links: make(map[uint64]*models.TrackedLink), next: 1}
}

func (f *fakeRepo) CreateLink(ctx context.Context, telegramID, link string) (*models.TrackedLink, error) {
	for _, l := range f.links {
		if l.OwnerID == telegramID && l.Link == link {
			return nil, pglinks.ErrDuplicateLink
		}
	}
	l := &models.TrackedLink{ID: f.next, OwnerID: telegramID, Link: link}
	f.links[f.next] = l
	f.next++
	return l, nil
}

func (f *fakeRepo) GetLinkByID(ctx context.Context, id uint64) (*models.TrackedLink, error) {
	l, ok := f.links[id]
	if !ok {
		return nil, pglinks.ErrLinkNotFound
	}
	return l, nil
}

func (f *fakeRepo) ListUserLinks(ctx context.Context, telegramID string, opts pglinks.ListOptions) ([]*models.TrackedLink, error) {
	var out []*models.TrackedLink
	for _, l := range f.links {
		if l.OwnerID == telegramID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteLinkByURL(ctx context.Context, telegramID, link string) (*models.TrackedLink, error) {
	for id, l := range f.links {
		if l.OwnerID == telegramID && l.Link == link {
			delete(f.links, id)
			return l, nil
		}
	}
	return nil, pglinks.ErrLinkNotFound
}

func (f *fakeRepo) DeleteLinkByID(ctx context.Context, id uint64) (*models.TrackedLink, error) {
	l, ok := f.links[id]
	if !ok {
		return nil, pglinks.ErrLinkNotFound
	}
	delete(f.links, id)
	return l, nil
}

func (f *fakeRepo) MarkLinkAbsent(ctx context.Context, id uint64, cooldown time.Duration) (*models.TrackedLink, error) {
	l, ok := f.links[id]
	if !ok {
		return nil, pglinks.ErrLinkNotFound
	}
	l.Notified = false
	until := time.Now().UTC().Add(cooldown)
	l.IgnoreUntil = &until
	return l, nil
}

func (f *fakeRepo) CountLinks(ctx context.Context) (int64, error)  { return int64(len(f.links)), nil }
func (f *fakeRepo) CountOwners(ctx context.Context) (int64, error) { return 1, nil }

type fakePub struct{ published []string }

func (f *fakePub) PublishTrigger(ctx context.Context, userID string) error {
	f.published = append(f.published, userID)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeRepo, *fakePub) {
	t.Helper()
	repo := newFakeRepo()
	pub := &fakePub{}
	svc := links.New(repo, pub, nil, nil)

	r := chi.NewRouter()
	New(svc).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo, pub
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestAddLink(t *testing.T) {
	srv, _, pub := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/links", `{"link":"`+validLink+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, validLink, body["link"])
	require.Equal(t, []string{"42"}, pub.published)

	// дубликат
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/links", `{"link":"`+validLink+`"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// невалидный формат ссылки
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/links", `{"link":"https://example.com/x"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotEmpty(t, body["error"])

	// битое тело запроса
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/links", `{broken`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddLink_LimitReturns422(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for i := 0; i < 5; i++ {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/links",
			`{"link":"`+validLink+`&a=`+string(rune('0'+i))+`"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/links", `{"link":"`+validLink+`&a=9"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestListLinks(t *testing.T) {
	srv, _, _ := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/links", `{"link":"`+validLink+`"}`)

	resp, err := http.Get(srv.URL + "/v1/users/42/links")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	require.Equal(t, validLink, out[0]["link"])
}

func TestRemoveLink(t *testing.T) {
	srv, _, _ := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/links", `{"link":"`+validLink+`"}`)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/v1/users/42/links", `{"link":"`+validLink+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/users/42/links", `{"link":"`+validLink+`"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRemoveLinkByID(t *testing.T) {
	srv, repo, _ := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/links", `{"link":"`+validLink+`"}`)
	require.Len(t, repo.links, 1)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/v1/links/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, repo.links)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/links/1", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/links/abc", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarkAbsent(t *testing.T) {
	srv, repo, _ := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/links", `{"link":"`+validLink+`"}`)
	repo.links[1].Notified = true

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/links/1/absent", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["notified"])
	require.NotNil(t, body["ignore_until"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/links/999/absent", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestForceCheck(t *testing.T) {
	srv, _, pub := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/check", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, true, body["triggered"])
	require.Equal(t, []string{"42"}, pub.published)
}

func TestStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/v1/users/42/links", `{"link":"`+validLink+`"}`)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), body["totalLinks"])
	require.Equal(t, float64(1), body["totalUsers"])
}
