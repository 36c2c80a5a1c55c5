package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"worm-backend/pkg/api"

	"github.com/gorilla/schema"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(code int, err error) error {
	return &codedError{err: err, code: code}
}

func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

// CodedResponse lets a handler override RestHandler's default 200 status
// while still returning through the normal (any, error) path.
type CodedResponse struct {
	Code int
	Body any
}

var formDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// ParseRequest decodes a request body into T. JSON bodies are decoded
// directly; urlencoded and multipart forms go through the schema decoder so
// that both clients end up with the same fully-populated struct.
func ParseRequest[T any](r *http.Request) (T, error) {
	var data T

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") || strings.HasPrefix(contentType, "multipart/form-data") {
		var err error
		if strings.HasPrefix(contentType, "multipart/form-data") {
			err = r.ParseMultipartForm(1 << 20)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			slog.Error("error parsing form", "error", err)
			return data, CodedErrorf(http.StatusBadRequest, "unable to parse request form")
		}
		if err := formDecoder.Decode(&data, r.PostForm); err != nil {
			slog.Error("error decoding form values", "error", err)
			return data, CodedErrorf(http.StatusBadRequest, "unable to parse request form")
		}
		return data, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		slog.Error("error parsing request body", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request body")
	}
	return data, nil
}

// RestHandler adapts a (result, error) handler to http.HandlerFunc. Errors
// always surface as a JSON {"error": ...} body; coded errors keep their
// status, anything else becomes a 500.
func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			var cerr *codedError
			if errors.As(err, &cerr) {
				WriteJsonError(w, cerr.code, err.Error())
				if cerr.code == http.StatusInternalServerError {
					slog.Error("internal server error received in endpoint", "error", err)
				}
			} else {
				slog.Error("received non coded error from endpoint", "error", err)
				WriteJsonError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		if coded, ok := res.(CodedResponse); ok {
			WriteJsonResponse(w, coded.Code, coded.Body)
			return
		}

		if res == nil {
			res = struct{}{}
		}

		WriteJsonResponse(w, http.StatusOK, res)
	}
}

func WriteJsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}

func WriteJsonError(w http.ResponseWriter, status int, message string) {
	WriteJsonResponse(w, status, api.ErrorResponse{Error: message})
}
