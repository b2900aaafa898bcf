package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// RequestSender is the part of the sender the API drives.
type RequestSender interface {
	Send(ctx context.Context, req push.SendRequest, cb push.Callback) error
}

type SendAPI struct {
	Sender RequestSender
	Logger *slog.Logger
}

func NewSendAPI(sender RequestSender, logger *slog.Logger) *SendAPI {
	return &SendAPI{
		Sender: sender,
		Logger: logger.With("component", "SendAPI"),
	}
}

// SendResponse counts the tokens submitted, including any the suppression
// list then skips.
type SendResponse struct {
	PushMessageID string `json:"pushMessageId"`
	Submitted     int    `json:"submitted"`
}

// Send answers 202 once dispatch has begun. Per-token results are only
// available through the metrics topic.
func (api *SendAPI) Send(w http.ResponseWriter, r *http.Request) {
	var req push.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	caller, _ := middleware.GetUserHandleFromContext(r.Context())
	log := api.Logger.With("variant_id", req.VariantID, "correlation_id", req.CorrelationID, "caller", caller)

	var failure string
	err := api.Sender.Send(r.Context(), req, push.CallbackFuncs{
		Error: func(message string) { failure = message },
	})
	if err != nil {
		log.Warn("Send request failed", "err", err)
		if failure == "" {
			failure = err.Error()
		}
		response.WriteJSONError(w, statusFor(err), failure)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(SendResponse{PushMessageID: req.CorrelationID, Submitted: len(req.Tokens)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, push.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, push.ErrInvalidRequest),
		errors.Is(err, push.ErrUnsupportedPlatform),
		errors.Is(err, push.ErrPayloadTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, push.ErrConnection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
