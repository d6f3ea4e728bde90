// Package session connects player join and leave notifications to the
// ledger manager.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sheikh-saqib/currency-ledger/internal/ledger"
)

type Handler struct {
	m      *ledger.Manager
	logger *slog.Logger
}

func NewHandler(m *ledger.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{m: m, logger: logger.With("component", "session")}
}

// OnConnect loads the player into the online cache and waits for it, so the
// sync economy path works as soon as this returns.
func (h *Handler) OnConnect(ctx context.Context, playerID, name string) error {
	if _, err := uuid.Parse(playerID); err != nil {
		return fmt.Errorf("invalid player id %q: %w", playerID, err)
	}
	if _, err := h.m.Connect(ctx, playerID, name).Await(ctx); err != nil {
		h.logger.Error("failed to load player", "player", playerID, "name", name, "error", err)
		return err
	}
	h.logger.Debug("player connected", "player", playerID, "name", name)
	return nil
}

// OnDisconnect saves and evicts the player. The entry leaves the cache even
// when the save fails.
func (h *Handler) OnDisconnect(ctx context.Context, playerID string) error {
	if _, err := h.m.Disconnect(ctx, playerID).Await(ctx); err != nil {
		return err
	}
	h.logger.Debug("player disconnected", "player", playerID)
	return nil
}
