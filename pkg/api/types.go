package api

// PredictResponse is returned for a successful classification. Confidence is
// the probability of the returned class, rounded to 3 decimals.
type PredictResponse struct {
	PredictedClass string  `json:"predicted_class"`
	Confidence     float64 `json:"confidence"`
	Message        string  `json:"message"`
}

type SignupRequest struct {
	Username string `json:"username" schema:"username"`
	Password string `json:"password" schema:"password"`
	Email    string `json:"email" schema:"email"`
}

type LoginRequest struct {
	Username string `json:"username" schema:"username"`
	Password string `json:"password" schema:"password"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Prediction is the external view of a stored prediction record. The internal
// storage id is deliberately not exposed.
type Prediction struct {
	PredictedClass string  `json:"predicted_class"`
	Confidence     float64 `json:"confidence"`
	Timestamp      string  `json:"timestamp"`
	Username       string  `json:"username"`
}

type PredictionList struct {
	Predictions []Prediction `json:"predictions"`
}
