package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// VariantLister lists registered variant ids.
type VariantLister interface {
	VariantIDs(ctx context.Context) ([]string, error)
}

// ClientEvictor drops pooled connections built from old credentials.
type ClientEvictor interface {
	EvictVariant(variantID string) int
}

type VariantAPI struct {
	Registry push.CredentialRegistry
	Lister   VariantLister
	Clients  ClientEvictor
	Logger   *slog.Logger
}

func NewVariantAPI(registry push.CredentialRegistry, lister VariantLister, clients ClientEvictor, logger *slog.Logger) *VariantAPI {
	return &VariantAPI{
		Registry: registry,
		Lister:   lister,
		Clients:  clients,
		Logger:   logger.With("component", "VariantAPI"),
	}
}

// PutVariantRequest carries the credential material. Certificate is base64
// in JSON.
type PutVariantRequest struct {
	Platform    push.Platform `json:"platform"`
	Certificate []byte        `json:"certificate"`
	Passphrase  string        `json:"passphrase,omitempty"`
	Topic       string        `json:"topic,omitempty"`
	PublicKey   string        `json:"publicKey,omitempty"`
}

func (api *VariantAPI) Put(w http.ResponseWriter, r *http.Request) {
	variantID := r.PathValue("id")
	if variantID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing variant id")
		return
	}

	var req PutVariantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	platform, err := push.ParsePlatform(string(req.Platform))
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Android may rely on application default credentials.
	if len(req.Certificate) == 0 && platform != push.PlatformAndroid {
		response.WriteJSONError(w, http.StatusBadRequest, "missing certificate")
		return
	}

	cred := &push.Credential{
		VariantID:   variantID,
		Platform:    platform,
		Certificate: req.Certificate,
		Passphrase:  req.Passphrase,
		Topic:       req.Topic,
		PublicKey:   req.PublicKey,
	}
	if err := api.Registry.PutCredential(r.Context(), cred); err != nil {
		api.Logger.Error("failed to store variant", "variant_id", variantID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if n := api.Clients.EvictVariant(variantID); n > 0 {
		api.Logger.Info("Closed clients using replaced credentials", "variant_id", variantID, "count", n)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *VariantAPI) Delete(w http.ResponseWriter, r *http.Request) {
	variantID := r.PathValue("id")
	if variantID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing variant id")
		return
	}
	if err := api.Registry.DeleteCredential(r.Context(), variantID); err != nil {
		api.Logger.Error("failed to delete variant", "variant_id", variantID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Clients.EvictVariant(variantID)

	w.WriteHeader(http.StatusNoContent)
}

type ListVariantsResponse struct {
	Variants []string `json:"variants"`
}

func (api *VariantAPI) List(w http.ResponseWriter, r *http.Request) {
	ids, err := api.Lister.VariantIDs(r.Context())
	if err != nil {
		api.Logger.Error("failed to list variants", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ListVariantsResponse{Variants: ids})
}
