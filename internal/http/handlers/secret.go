package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowmium/flowmium/internal/http/response"
	"github.com/flowmium/flowmium/internal/secrets"
)

type SecretHandler struct {
	store secrets.Store
}

func NewSecretHandler(store secrets.Store) *SecretHandler {
	return &SecretHandler{store: store}
}

// POST /secret/:key — creates a new secret, 400 if key already exists.
func (h *SecretHandler) CreateSecret(c *gin.Context) {
	key := c.Param("key")
	var value string
	if err := c.ShouldBindJSON(&value); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_secret_value", err)
		return
	}

	if _, err := h.store.Get(c.Request.Context(), key); err == nil {
		response.RespondError(c, http.StatusBadRequest, "secret_already_exists", errors.New("secret already exists"))
		return
	} else if !errors.Is(err, secrets.ErrSecretNotFound) {
		response.RespondError(c, http.StatusInternalServerError, "get_secret_failed", err)
		return
	}

	if err := h.store.Put(c.Request.Context(), key, value); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "put_secret_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"key": key})
}

// PUT /secret/:key — upserts, body is a JSON string value.
func (h *SecretHandler) PutSecret(c *gin.Context) {
	key := c.Param("key")
	var value string
	if err := c.ShouldBindJSON(&value); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_secret_value", err)
		return
	}
	if err := h.store.Put(c.Request.Context(), key, value); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "put_secret_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"key": key})
}

// DELETE /secret/:key
func (h *SecretHandler) DeleteSecret(c *gin.Context) {
	key := c.Param("key")
	err := h.store.Delete(c.Request.Context(), key)
	if errors.Is(err, secrets.ErrSecretNotFound) {
		response.RespondError(c, http.StatusBadRequest, "secret_not_found", err)
		return
	}
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "delete_secret_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"key": key})
}
