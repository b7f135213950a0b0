package streamerr

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Error body `json:"error"`
}

type body struct {
	Type    Kind           `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// WriteJSON writes err as a JSON error envelope with the status of its kind.
func WriteJSON(w http.ResponseWriter, err error) {
	se := As(err)
	details := se.Details
	if details == nil {
		details = map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(se.Kind))
	_ = json.NewEncoder(w).Encode(envelope{Error: body{
		Type:    se.Kind,
		Message: se.Message,
		Details: details,
	}})
}
