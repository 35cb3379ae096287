package handlers

import (
	"net/http"
	"strconv"

	"github.com/nmamano/wallgame-broker/internal/botregistry"
	"github.com/nmamano/wallgame-broker/internal/models"
)

// BotDiscoveryHandler serves the bot-discovery HTTP surface (spec.md §6.4),
// reading straight from the Bot Registry (C2) with no mutation.
type BotDiscoveryHandler struct {
	registry *botregistry.Registry
}

func NewBotDiscoveryHandler(registry *botregistry.Registry) *BotDiscoveryHandler {
	return &BotDiscoveryHandler{registry: registry}
}

func optionalIntParam(r *http.Request, name string) *int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func (h *BotDiscoveryHandler) ListBots(w http.ResponseWriter, r *http.Request) {
	variant := models.Variant(r.URL.Query().Get("variant"))
	if variant == "" {
		respondWithError(w, http.StatusBadRequest, "variant is required")
		return
	}
	width := optionalIntParam(r, "boardWidth")
	height := optionalIntParam(r, "boardHeight")
	username := r.URL.Query().Get("username")

	bots := h.registry.ListMatching(variant, width, height, username)
	respondWithJSON(w, http.StatusOK, bots)
}

func (h *BotDiscoveryHandler) ListRecommendedBots(w http.ResponseWriter, r *http.Request) {
	variant := models.Variant(r.URL.Query().Get("variant"))
	if variant == "" {
		respondWithError(w, http.StatusBadRequest, "variant is required")
		return
	}
	username := r.URL.Query().Get("username")

	bots := h.registry.ListRecommended(variant, username)
	respondWithJSON(w, http.StatusOK, bots)
}
