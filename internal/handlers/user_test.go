package handlers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourfolio/apiserver/internal/storage"
)

type fakeObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{objects: map[string][]byte{}}
}

func (f *fakeObjectStorage) EnsureBucket(ctx context.Context) error { return nil }

func (f *fakeObjectStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(f.objects[key])), nil
}

func (f *fakeObjectStorage) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStorage) Bucket() string { return "test-bucket" }

func photoRequest(t *testing.T, filename string, content []byte, token string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(formFieldPhoto, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPatch, "/users/me/photo", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newUserTestRouter(t *testing.T, env *authTestEnv, avatars *storage.Avatars) *chi.Mux {
	t.Helper()

	handler := NewUserHandler(env.service, avatars)
	router := chi.NewRouter()
	router.Route("/users", func(r chi.Router) {
		UserRouter(r, handler, env.handler.RequireAuth)
	})
	return router
}

func TestUploadPhotoStoresObjectAndUpdatesUser(t *testing.T) {
	env := newAuthTestEnv(t)
	user, token := env.signup(t, "Ada", "ada@example.com", "pass1234")

	backend := newFakeObjectStorage()
	router := newUserTestRouter(t, env, storage.NewAvatars(backend))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, photoRequest(t, "me.png", []byte("png-bytes"), token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	backend.mu.Lock()
	data, ok := backend.objects["avatars/user-1.png"]
	backend.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, []byte("png-bytes"), data)

	stored, err := env.repo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "avatars/user-1.png", stored.Photo)
}

func TestUploadPhotoRejectsUnsupportedType(t *testing.T) {
	env := newAuthTestEnv(t)
	_, token := env.signup(t, "Ada", "ada@example.com", "pass1234")

	router := newUserTestRouter(t, env, storage.NewAvatars(newFakeObjectStorage()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, photoRequest(t, "me.gif", []byte("gif-bytes"), token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadPhotoRequiresAuth(t *testing.T) {
	env := newAuthTestEnv(t)
	router := newUserTestRouter(t, env, storage.NewAvatars(newFakeObjectStorage()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, photoRequest(t, "me.png", []byte("png-bytes"), ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadPhotoWithoutStorageConfigured(t *testing.T) {
	env := newAuthTestEnv(t)
	_, token := env.signup(t, "Ada", "ada@example.com", "pass1234")

	router := newUserTestRouter(t, env, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, photoRequest(t, "me.png", []byte("png-bytes"), token))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
