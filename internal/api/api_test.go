package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	backend "worm-backend/internal/api"
	"worm-backend/internal/database"
	"worm-backend/internal/messaging"
	"worm-backend/internal/storage"
	"worm-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type stubScorer struct {
	pred float32
	err  error
}

func (s *stubScorer) Score(tensor []float32) (float32, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.pred, nil
}

type failingPublisher struct{}

func (failingPublisher) PublishAlertTask(ctx context.Context, payload messaging.AlertTaskPayload) error {
	return fmt.Errorf("queue unavailable")
}

func (failingPublisher) Close() {}

func newTestService(t *testing.T, db *gorm.DB, scorer *stubScorer, publisher messaging.Publisher) (*chi.Mux, string) {
	t.Helper()

	uploadDir := t.TempDir()
	uploads, err := storage.NewUploadStore(uploadDir)
	require.NoError(t, err)

	service := backend.NewBackendService(db, scorer, uploads, publisher)
	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		service.AddRoutes(r)
	})

	return router, uploadDir
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 100, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartImageRequest(t *testing.T, username string, imageBytes []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if username != "" {
		require.NoError(t, w.WriteField("username", username))
	}
	fw, err := w.CreateFormFile("image", "worm.png")
	require.NoError(t, err)
	_, err = fw.Write(imageBytes)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/predict", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func countPredictions(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&database.Prediction{}).Count(&count).Error)
	return count
}

func TestPredictFlatworm(t *testing.T) {
	db := createDB(t)
	queue := messaging.NewInMemoryQueue()
	router, _ := newTestService(t, db, &stubScorer{pred: 0.9}, queue)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartImageRequest(t, "alice", pngBytes(t)))

	assert.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

	var resp api.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "flatworm", resp.PredictedClass)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
	assert.Equal(t, "Prediction successful!", resp.Message)

	assert.Equal(t, int64(1), countPredictions(t, db))

	select {
	case task := <-queue.Tasks():
		var payload messaging.AlertTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, "alice", payload.Username)
		assert.InDelta(t, 0.9, payload.Confidence, 1e-6)
		assert.NotEmpty(t, payload.Timestamp)
	default:
		t.Fatal("expected an alert task for a flatworm prediction")
	}
}

func TestPredictEarthwormFromRawBody(t *testing.T) {
	db := createDB(t)
	queue := messaging.NewInMemoryQueue()
	router, _ := newTestService(t, db, &stubScorer{pred: 0.1}, queue)

	req := httptest.NewRequest(http.MethodPost, "/api/predict", bytes.NewReader(pngBytes(t)))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

	var resp api.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "earthworm", resp.PredictedClass)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-6)

	assert.Equal(t, int64(1), countPredictions(t, db))

	select {
	case <-queue.Tasks():
		t.Fatal("earthworm prediction must not publish an alert")
	default:
	}
}

func TestPredictTieBreak(t *testing.T) {
	// A score of exactly 0.5 must resolve to earthworm with confidence 0.5.
	db := createDB(t)
	router, _ := newTestService(t, db, &stubScorer{pred: 0.5}, messaging.NewInMemoryQueue())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartImageRequest(t, "", pngBytes(t)))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp api.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "earthworm", resp.PredictedClass)
	assert.InDelta(t, 0.5, resp.Confidence, 1e-9)
}

func TestPredictNoImage(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &stubScorer{pred: 0.9}, messaging.NewInMemoryQueue())

	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader("username=alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no image provided", resp.Error)

	assert.Equal(t, int64(0), countPredictions(t, db))
}

func TestPredictMethodNotAllowed(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &stubScorer{pred: 0.9}, messaging.NewInMemoryQueue())

	req := httptest.NewRequest(http.MethodGet, "/api/predict", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestPredictCorruptImage(t *testing.T) {
	db := createDB(t)
	router, uploadDir := newTestService(t, db, &stubScorer{pred: 0.9}, messaging.NewInMemoryQueue())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartImageRequest(t, "alice", []byte("not an image")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "prediction failed")

	assert.Equal(t, int64(0), countPredictions(t, db))

	// The temporary asset is released on the failure path too.
	entries, err := os.ReadDir(uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPredictCleansUpUpload(t *testing.T) {
	db := createDB(t)
	router, uploadDir := newTestService(t, db, &stubScorer{pred: 0.2}, messaging.NewInMemoryQueue())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartImageRequest(t, "alice", pngBytes(t)))
	assert.Equal(t, http.StatusOK, rec.Code)

	entries, err := os.ReadDir(uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPredictPublishFailureIsolated(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &stubScorer{pred: 0.95}, failingPublisher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartImageRequest(t, "alice", pngBytes(t)))

	assert.Equal(t, http.StatusOK, rec.Code, "alert publish failure must not fail the prediction")

	var resp api.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "flatworm", resp.PredictedClass)

	assert.Equal(t, int64(1), countPredictions(t, db))
}

func TestSignup(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &stubScorer{}, messaging.NewInMemoryQueue())

	signup := func(body api.SignupRequest) *httptest.ResponseRecorder {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/signup", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("Created", func(t *testing.T) {
		rec := signup(api.SignupRequest{Username: "alice", Password: "secret", Email: "alice@example.com"})
		assert.Equal(t, http.StatusCreated, rec.Code)

		var resp api.MessageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "User created successfully", resp.Message)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		rec := signup(api.SignupRequest{Username: "alice", Password: "other", Email: "other@example.com"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp api.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "username already exists", resp.Error)
	})

	t.Run("MissingFields", func(t *testing.T) {
		rec := signup(api.SignupRequest{Username: "bob"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("PasswordStoredHashed", func(t *testing.T) {
		var user database.User
		require.NoError(t, db.Where("username = ?", "alice").First(&user).Error)
		assert.NotEqual(t, "secret", user.PasswordHash)
		assert.NotEmpty(t, user.PasswordHash)
	})
}

func TestLogin(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &stubScorer{}, messaging.NewInMemoryQueue())

	data, err := json.Marshal(api.SignupRequest{Username: "alice", Password: "secret", Email: "alice@example.com"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/signup", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	login := func(username, password string) *httptest.ResponseRecorder {
		form := url.Values{"username": {username}, "password": {password}}
		req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("Success", func(t *testing.T) {
		rec := login("alice", "secret")
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp api.MessageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Logged in successfully", resp.Message)
	})

	t.Run("UniformErrorForUnknownUserAndBadPassword", func(t *testing.T) {
		// Neither response may reveal which of the two checks failed.
		unknown := login("mallory", "secret")
		badPassword := login("alice", "wrong")

		assert.Equal(t, http.StatusUnauthorized, unknown.Code)
		assert.Equal(t, http.StatusUnauthorized, badPassword.Code)
		assert.Equal(t, unknown.Body.String(), badPassword.Body.String())
	})

	t.Run("MissingFields", func(t *testing.T) {
		rec := login("alice", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogout(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &stubScorer{}, messaging.NewInMemoryQueue())

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp api.MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Logged out successfully", resp.Message)
}

func TestAllPredictions(t *testing.T) {
	t.Run("EmptyStoreReturnsNotFound", func(t *testing.T) {
		db := createDB(t)
		router, _ := newTestService(t, db, &stubScorer{}, messaging.NewInMemoryQueue())

		req := httptest.NewRequest(http.MethodGet, "/api/all", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)

		var resp api.MessageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "No predictions yet.", resp.Message)
	})

	t.Run("NewestFirstWithoutIds", func(t *testing.T) {
		now := time.Now().UTC()
		db := createDB(t,
			&database.Prediction{Id: uuid.New(), PredictedClass: "earthworm", Confidence: 0.7, Timestamp: "2025-01-01 10:00:00", Username: "alice", CreationTime: now.Add(-time.Hour)},
			&database.Prediction{Id: uuid.New(), PredictedClass: "flatworm", Confidence: 0.9, Timestamp: "2025-01-01 11:00:00", Username: "bob", CreationTime: now},
		)
		router, _ := newTestService(t, db, &stubScorer{}, messaging.NewInMemoryQueue())

		req := httptest.NewRequest(http.MethodGet, "/api/all", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp api.PredictionList
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Predictions, 2)
		assert.Equal(t, "flatworm", resp.Predictions[0].PredictedClass)
		assert.Equal(t, "earthworm", resp.Predictions[1].PredictedClass)

		var raw map[string][]map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
		for _, p := range raw["predictions"] {
			assert.NotContains(t, p, "Id")
			assert.NotContains(t, p, "id")
		}
	})
}

func TestHealth(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &stubScorer{}, messaging.NewInMemoryQueue())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
