package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/app"
	"github.com/ucasvieira/locadora/internal/config"
	"github.com/ucasvieira/locadora/internal/model"
	"github.com/ucasvieira/locadora/internal/service"
	"github.com/ucasvieira/locadora/internal/storage/memory"
)

// setupTestServer builds a context over an in-memory device and its router.
func setupTestServer(t *testing.T) (*gin.Engine, *app.App) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Backend:       config.BackendMemory,
		ContextID:     "api-test",
		LimitWindow:   time.Minute,
		LimitMaxFails: 3,
		LimitBlockFor: time.Minute,
	}
	a, err := app.New(context.Background(), cfg, memory.NewDevice().Open(cfg.ContextID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	srv := New(a.Auth, a.Catalog, a.Rentals, a.Bus, zap.NewNop())
	return srv.Router(), a
}

// performRequest executes an HTTP request against the test router, encoding
// body as JSON when it is not nil.
func performRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			panic(fmt.Sprintf("marshal body: %v", err))
		}
		rd = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func login(t *testing.T, r http.Handler, user, pass string) {
	t.Helper()
	w := performRequest(r, http.MethodPost, "/api/auth/login", CredentialsRequest{Username: user, Password: pass})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestListMovies(t *testing.T) {
	r, a := setupTestServer(t)

	w := performRequest(r, http.MethodGet, "/api/movies?page=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[service.MoviePage](t, w)
	assert.Equal(t, len(a.Seed.Movies), page.Total)
	assert.Equal(t, service.DefaultPageSize, page.PageSize)
	assert.Len(t, page.Movies, min(service.DefaultPageSize, len(a.Seed.Movies)))

	w = performRequest(r, http.MethodGet, "/api/movies?sort=year&order=desc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[service.MoviePage](t, w)
	for i := 1; i < len(page.Movies); i++ {
		assert.GreaterOrEqual(t, page.Movies[i-1].Year, page.Movies[i].Year)
	}

	w = performRequest(r, http.MethodGet, "/api/movies?where=year+greaterThan+1990", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, m := range decode[service.MoviePage](t, w).Movies {
		assert.Greater(t, m.Year, 1990)
	}

	bad := []string{
		"/api/movies?page=x",
		"/api/movies?order=sideways",
		"/api/movies?sort=budget",
		"/api/movies?where=year+between+1",
	}
	for _, path := range bad {
		w = performRequest(r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.NotEmpty(t, decode[APIError](t, w).Error)
	}
}

func TestGetMovieAndCategories(t *testing.T) {
	r, _ := setupTestServer(t)

	w := performRequest(r, http.MethodGet, "/api/movies/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", decode[model.Movie](t, w).ID)

	w = performRequest(r, http.MethodGet, "/api/movies/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performRequest(r, http.MethodGet, "/api/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cats := decode[map[string][]string](t, w)["categories"]
	assert.NotEmpty(t, cats)
	assert.IsIncreasing(t, cats)
}

func TestMovieMutationsRequireAdmin(t *testing.T) {
	r, _ := setupTestServer(t)
	movie := model.Movie{Title: "Arrival", Category: "Sci-Fi", Year: 2016, Rating: 7.9}

	w := performRequest(r, http.MethodPost, "/api/movies", movie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	login(t, r, "user", "user123")
	w = performRequest(r, http.MethodPost, "/api/movies", movie)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = performRequest(r, http.MethodDelete, "/api/movies/1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMovieLifecycle(t *testing.T) {
	r, a := setupTestServer(t)
	login(t, r, "admin", "admin123")

	w := performRequest(r, http.MethodPost, "/api/movies", model.Movie{Title: "Arrival", Category: "Sci-Fi", Year: 2016, Rating: 7.9})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	added := decode[model.Movie](t, w)
	assert.Equal(t, fmt.Sprint(len(a.Seed.Movies)+1), added.ID)

	w = performRequest(r, http.MethodPost, "/api/movies", model.Movie{Category: "Drama"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(r, http.MethodPut, "/api/movies/1", model.Movie{Title: "Edited", Year: 2000, Rating: 5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", decode[model.Movie](t, w).ID)

	w = performRequest(r, http.MethodPut, "/api/movies/404", model.Movie{Title: "Ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// remove then undo a base movie that has no edit
	w = performRequest(r, http.MethodDelete, "/api/movies/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	removed := decode[model.Movie](t, w)
	assert.Equal(t, "2", removed.ID)

	w = performRequest(r, http.MethodGet, "/api/movies/2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = performRequest(r, http.MethodDelete, "/api/movies/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performRequest(r, http.MethodPost, "/api/movies/restore", removed)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = performRequest(r, http.MethodGet, "/api/movies/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, removed, decode[model.Movie](t, w))
}

func TestAuthFlow(t *testing.T) {
	r, _ := setupTestServer(t)

	w := performRequest(r, http.MethodGet, "/api/auth/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[SessionResponse](t, w).Session)

	w = performRequest(r, http.MethodPost, "/api/auth/login", CredentialsRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = performRequest(r, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// anonymous registration cannot grant admin
	w = performRequest(r, http.MethodPost, "/api/auth/register", CredentialsRequest{Username: "alice", Password: "secret1", Role: model.RoleAdmin})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, model.RoleUser, decode[model.PublicUser](t, w).Role)

	w = performRequest(r, http.MethodPost, "/api/auth/register", CredentialsRequest{Username: "alice", Password: "other"})
	assert.Equal(t, http.StatusConflict, w.Code)

	login(t, r, "alice", "secret1")
	w = performRequest(r, http.MethodGet, "/api/auth/session", nil)
	sess := decode[SessionResponse](t, w).Session
	require.NotNil(t, sess)
	assert.Equal(t, "alice", sess.Username)

	w = performRequest(r, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = performRequest(r, http.MethodGet, "/api/auth/session", nil)
	assert.Nil(t, decode[SessionResponse](t, w).Session)
}

func TestLoginRateLimited(t *testing.T) {
	r, _ := setupTestServer(t)
	var last int
	for range 4 {
		last = performRequest(r, http.MethodPost, "/api/auth/login", CredentialsRequest{Username: "user", Password: "bad"}).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestUserAdministration(t *testing.T) {
	r, _ := setupTestServer(t)

	w := performRequest(r, http.MethodPost, "/api/auth/register", CredentialsRequest{Username: "bob", Password: "pw"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(r, http.MethodDelete, "/api/users/bob", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	login(t, r, "admin", "admin123")

	w = performRequest(r, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decode[map[string][]model.PublicUser](t, w)["users"]
	require.NotEmpty(t, users)
	assert.Equal(t, model.SourceStored, users[len(users)-1].Source)
	assert.NotContains(t, w.Body.String(), "passwordHash")

	w = performRequest(r, http.MethodPut, "/api/users/bob/role", RoleRequest{Role: model.RoleAdmin})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = performRequest(r, http.MethodPut, "/api/users/bob/role", RoleRequest{Role: "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = performRequest(r, http.MethodPut, "/api/users/admin/role", RoleRequest{Role: model.RoleUser})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = performRequest(r, http.MethodDelete, "/api/users/bob", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = performRequest(r, http.MethodDelete, "/api/users/bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRentals(t *testing.T) {
	r, a := setupTestServer(t)

	w := performRequest(r, http.MethodGet, "/api/rentals", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	login(t, r, "user", "user123")
	w = performRequest(r, http.MethodGet, "/api/rentals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]model.Rental](t, w)["rentals"], len(a.Seed.InitialRentals))

	w = performRequest(r, http.MethodPost, "/api/rentals", model.Rental{CustomerName: "Ana", MovieTitle: "Arrival", RentDate: "2024-06-01"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[model.Rental](t, w)
	assert.Equal(t, model.RentalActive, created.Status)
	assert.NotEmpty(t, created.ID)

	w = performRequest(r, http.MethodPost, "/api/rentals", model.Rental{MovieTitle: "Arrival"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	returned := model.RentalReturned
	ret := "2024-06-05"
	w = performRequest(r, http.MethodPatch, "/api/rentals/"+created.ID, model.RentalPatch{Status: &returned, ReturnDate: &ret})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.RentalReturned, decode[model.Rental](t, w).Status)

	w = performRequest(r, http.MethodPatch, "/api/rentals/nope", model.RentalPatch{Status: &returned})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performRequest(r, http.MethodDelete, "/api/rentals/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = performRequest(r, http.MethodDelete, "/api/rentals/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventsStream(t *testing.T) {
	r, a := setupTestServer(t)
	ts := httptest.NewServer(r)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?topic=movies", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	waitFor := func(substr string) string {
		for sc.Scan() {
			if strings.Contains(sc.Text(), substr) {
				return sc.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", substr, sc.Err())
		return ""
	}
	waitFor("ready")

	_, ok, err := a.Catalog.Remove(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, ok)

	line := waitFor("locadora_removed")
	assert.Contains(t, line, `"topic":"movies"`)
}
