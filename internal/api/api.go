package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"worm-backend/internal/core"
	"worm-backend/internal/database"
	"worm-backend/internal/messaging"
	"worm-backend/internal/storage"
	"worm-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const maxUploadBytes = 10 << 20 // 10MB

// Prediction timestamps use a fixed +5:30 offset regardless of server locale.
var istZone = time.FixedZone("IST", 5*3600+30*60)

func istTimestamp(t time.Time) string {
	return t.In(istZone).Format("2006-01-02 15:04:05")
}

type BackendService struct {
	db        *gorm.DB
	scorer    core.Scorer
	uploads   *storage.UploadStore
	publisher messaging.Publisher
}

func NewBackendService(db *gorm.DB, scorer core.Scorer, uploads *storage.UploadStore, publisher messaging.Publisher) *BackendService {
	return &BackendService{db: db, scorer: scorer, uploads: uploads, publisher: publisher}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteJsonError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Post("/predict", RestHandler(s.Predict))
	r.Post("/signup", RestHandler(s.Signup))
	r.Post("/login", RestHandler(s.Login))
	r.Post("/logout", RestHandler(s.Logout))
	r.Get("/all", RestHandler(s.AllPredictions))
}

func (s *BackendService) Predict(r *http.Request) (any, error) {
	ctx := r.Context()

	var assetPath string
	defer func() {
		// The uploaded image must never outlive the request, whatever path
		// the handler took. Removal errors are logged, not surfaced.
		if assetPath != "" {
			if err := s.uploads.Remove(assetPath); err != nil {
				slog.Error("error removing uploaded image", "path", assetPath, "error", err)
			}
		}
	}()

	var username string
	contentType := r.Header.Get("Content-Type")

	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form")
		}
		username = r.FormValue("username")

		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "no image provided")
		}
		defer file.Close()

		assetPath, err = s.uploads.SaveMultipart(file, header)
		if err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to store uploaded image: %v", err)
		}

	case strings.HasPrefix(contentType, "image/"):
		var err error
		assetPath, err = s.uploads.SaveRaw(http.MaxBytesReader(nil, r.Body, maxUploadBytes))
		if err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to store uploaded image: %v", err)
		}

	default:
		return nil, CodedErrorf(http.StatusBadRequest, "no image provided")
	}

	tensor, err := core.PreprocessImage(assetPath)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "prediction failed: %v", err)
	}

	pred, err := s.scorer.Score(tensor)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "prediction failed: %v", err)
	}

	class, confidence := core.Decide(pred)
	timestamp := istTimestamp(time.Now())

	prediction := &database.Prediction{
		Id:             uuid.New(),
		PredictedClass: class,
		Confidence:     float64(confidence),
		Timestamp:      timestamp,
		Username:       username,
		CreationTime:   time.Now().UTC(),
	}
	if err := database.CreatePrediction(ctx, s.db, prediction); err != nil {
		slog.Error("error persisting prediction", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to store prediction")
	}

	if class == database.ClassFlatworm {
		// The record is already persisted; a failed publish must not turn a
		// valid prediction into an error response.
		payload := messaging.AlertTaskPayload{Username: username, Confidence: confidence, Timestamp: timestamp}
		if err := s.publisher.PublishAlertTask(ctx, payload); err != nil {
			slog.Error("error publishing alert task", "username", username, "error", err)
		}
	}

	return api.PredictResponse{
		PredictedClass: class,
		Confidence:     math.Round(float64(confidence)*1000) / 1000,
		Message:        "Prediction successful!",
	}, nil
}

func (s *BackendService) Signup(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SignupRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Username == "" || req.Password == "" || req.Email == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "username, password, and email required")
	}

	ctx := r.Context()

	if _, err := database.GetUserByUsername(ctx, s.db, req.Username); err == nil {
		return nil, CodedErrorf(http.StatusBadRequest, "username already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Error("error checking for existing user", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create user")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("error hashing password", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create user")
	}

	user := &database.User{
		Id:           uuid.New(),
		Username:     req.Username,
		PasswordHash: string(hash),
		Email:        req.Email,
		CreationTime: time.Now().UTC(),
	}
	if err := database.CreateUser(ctx, s.db, user); err != nil {
		slog.Error("error creating user", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create user")
	}

	return CodedResponse{Code: http.StatusCreated, Body: api.MessageResponse{Message: "User created successfully"}}, nil
}

func (s *BackendService) Login(r *http.Request) (any, error) {
	req, err := ParseRequest[api.LoginRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Username == "" || req.Password == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "username and password required")
	}

	// Unknown username and wrong password must be indistinguishable.
	user, err := database.GetUserByUsername(r.Context(), s.db, req.Username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusUnauthorized, "invalid username or password")
		}
		slog.Error("error looking up user", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "login failed")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, CodedErrorf(http.StatusUnauthorized, "invalid username or password")
	}

	return api.MessageResponse{Message: "Logged in successfully"}, nil
}

func (s *BackendService) Logout(r *http.Request) (any, error) {
	// No server-side session exists; clients discard their own state.
	return api.MessageResponse{Message: "Logged out successfully"}, nil
}

func (s *BackendService) AllPredictions(r *http.Request) (any, error) {
	records, err := database.ListPredictions(r.Context(), s.db)
	if err != nil {
		slog.Error("error listing predictions", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to fetch predictions")
	}

	if len(records) == 0 {
		// An empty history reports 404 rather than an empty list. Clients
		// depend on this, so it stays despite being un-RESTful.
		return CodedResponse{Code: http.StatusNotFound, Body: api.MessageResponse{Message: "No predictions yet."}}, nil
	}

	out := make([]api.Prediction, len(records))
	for i, rec := range records {
		out[i] = api.Prediction{
			PredictedClass: rec.PredictedClass,
			Confidence:     rec.Confidence,
			Timestamp:      rec.Timestamp,
			Username:       rec.Username,
		}
	}

	return api.PredictionList{Predictions: out}, nil
}
