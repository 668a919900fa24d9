package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stim-control-platform/api/internal/control"
	"stim-control-platform/api/internal/fleet"
	"stim-control-platform/api/internal/models"
	"stim-control-platform/api/internal/repos"
	"stim-control-platform/shared/authx"
	"stim-control-platform/shared/cachex"
	"stim-control-platform/shared/devstate"
	"stim-control-platform/shared/httpx"
	"stim-control-platform/shared/logx"
)

type app struct {
	users      *repos.UsersRepo
	devices    *repos.DevicesRepo
	shockers   *repos.ShockersRepo
	shares     *repos.SharesRepo
	logs       *repos.ControlLogRepo
	outbox     *repos.OutboxRepo
	dispatcher *control.Dispatcher
	locator    *fleet.Locator
	cache      *cachex.Client
	logger     logx.Logger

	pairCodeTTL time.Duration
}

// currentUser maps the verified token subject to a local user row, creating
// it on first sight so login provisioning needs no separate endpoint.
func (a *app) currentUser(ctx context.Context) (models.User, error) {
	auth, ok := authx.FromContext(ctx)
	if !ok || auth.Subject == "" {
		return models.User{}, errors.New("missing auth context")
	}
	user, err := a.users.GetUserBySubject(ctx, auth.Subject)
	if errors.Is(err, pgx.ErrNoRows) {
		return a.users.UpsertUserFromOIDC(ctx, auth.Subject, auth.Email, auth.Name)
	}
	return user, err
}

type controlRequestItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Intensity uint8  `json:"intensity"`
	Duration  uint   `json:"duration"`
}

type controlRequest struct {
	Shocks []controlRequestItem `json:"shocks"`
}

const maxControlBatch = 64

func (a *app) handleControl(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
		return
	}
	if len(req.Shocks) == 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "shocks must not be empty", nil)
		return
	}
	if len(req.Shocks) > maxControlBatch {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT",
			fmt.Sprintf("at most %d commands per batch", maxControlBatch), nil)
		return
	}

	commands := make([]control.Command, 0, len(req.Shocks))
	for i, item := range req.Shocks {
		shockerID, err := uuid.Parse(item.ID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT",
				fmt.Sprintf("shocks[%d].id is not a valid uuid", i), nil)
			return
		}
		cmdType, err := control.ParseCommandType(item.Type)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT",
				fmt.Sprintf("shocks[%d].type: %s", i, err.Error()), nil)
			return
		}
		commands = append(commands, control.Command{
			ShockerID:    shockerID,
			Type:         cmdType,
			IntensityPct: item.Intensity,
			DurationMS:   item.Duration,
		})
	}

	result, err := a.dispatcher.Dispatch(r.Context(), user.UserID, commands)
	if err != nil {
		a.logger.Error(r.Context(), "dispatch_failed", "control dispatch failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("user_id", user.UserID.String()),
			slog.String("error", err.Error()),
		)
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "dispatch failed", nil)
		return
	}
	if result.Rejections == nil {
		result.Rejections = []control.Rejection{}
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (a *app) handleDeviceGateway(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	deviceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid device id", nil)
		return
	}

	loc, err := a.locator.Locate(r.Context(), deviceID, user.UserID)
	if err != nil {
		if errors.Is(err, fleet.ErrRegistryInconsistent) {
			a.logger.Error(r.Context(), "gateway_registry_drift", "device claims a gateway the registry does not know",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("device_id", deviceID.String()),
				slog.String("error", err.Error()),
			)
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "gateway registry inconsistent", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "gateway lookup failed", nil)
		return
	}

	switch loc.State {
	case fleet.StateNotFound, fleet.StateNotAuthorized:
		// Unauthorized callers get the same answer as missing devices.
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "device not found", nil)
	case fleet.StateOffline:
		httpx.WriteError(w, r, http.StatusNotFound, "DEVICE_OFFLINE", "device is not connected", nil)
	case fleet.StateOnlineNoGateway:
		httpx.WriteError(w, r, http.StatusPreconditionFailed, "FIRMWARE_UPGRADE_REQUIRED", "device firmware does not support live control", nil)
	case fleet.StateOnline:
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"fqdn":    loc.Gateway.Fqdn,
			"country": loc.Gateway.Country,
		})
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "unexpected gateway state", nil)
	}
}

func (a *app) handleListDevices(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	devices, err := a.devices.ListDevices(r.Context(), user.UserID, 100, 0)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list devices", nil)
		return
	}
	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, map[string]any{
			"device_id":  d.DeviceID,
			"name":       d.Name,
			"created_at": d.CreatedAt,
			"updated_at": d.UpdatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (a *app) handleRenameDevice(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	deviceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid device id", nil)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" || len(name) > 64 {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "name must be 1-64 characters", nil)
		return
	}

	device, err := a.devices.RenameDevice(r.Context(), user.UserID, deviceID, name, a.outbox)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "device not found", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "rename failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"device_id":  device.DeviceID,
		"name":       device.Name,
		"updated_at": device.UpdatedAt,
	})
}

func (a *app) handlePairDevice(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	deviceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid device id", nil)
		return
	}
	if _, err := a.devices.GetOwnedDevice(r.Context(), user.UserID, deviceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "device not found", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "device lookup failed", nil)
		return
	}

	code, err := pairCode()
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "pair code generation failed", nil)
		return
	}
	pair := devstate.DevicePair{DeviceID: deviceID, PairCode: code}
	if err := a.cache.SetJSON(r.Context(), devstate.PairKey(deviceID), pair, a.pairCodeTTL); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "pair code store failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"code":       code,
		"expires_at": time.Now().UTC().Add(a.pairCodeTTL),
	})
}

func (a *app) handleListShockers(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	deviceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid device id", nil)
		return
	}
	if _, err := a.devices.GetOwnedDevice(r.Context(), user.UserID, deviceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "device not found", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "device lookup failed", nil)
		return
	}
	shockers, err := a.shockers.ListForDevice(r.Context(), deviceID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list shockers", nil)
		return
	}
	out := make([]map[string]any, 0, len(shockers))
	for _, s := range shockers {
		out = append(out, map[string]any{
			"shocker_id": s.ShockerID,
			"radio_id":   s.RadioID,
			"model":      s.Model,
			"name":       s.Name,
			"paused":     s.Paused,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"shockers": out})
}

func (a *app) handlePauseShocker(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	shockerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid shocker id", nil)
		return
	}
	var body struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
		return
	}

	updated, err := a.shockers.SetPaused(r.Context(), user.UserID, shockerID, body.Paused)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "pause update failed", nil)
		return
	}
	if !updated {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "shocker not found", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"shocker_id": shockerID,
		"paused":     body.Paused,
	})
}

type shareRequest struct {
	PermShock   bool   `json:"perm_shock"`
	PermVibrate bool   `json:"perm_vibrate"`
	PermSound   bool   `json:"perm_sound"`
	PermLive    bool   `json:"perm_live"`
	LimitDurMS  *uint  `json:"limit_duration_ms"`
	LimitInt    *uint8 `json:"limit_intensity"`
}

func (a *app) handleUpsertShare(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	shockerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid shocker id", nil)
		return
	}
	recipientID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid user id", nil)
		return
	}
	if recipientID == user.UserID {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "cannot share a shocker with yourself", nil)
		return
	}

	var body shareRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
		return
	}
	if body.LimitDurMS != nil && *body.LimitDurMS < control.MinDurationMS {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT",
			fmt.Sprintf("limit_duration_ms must be >= %d", control.MinDurationMS), nil)
		return
	}
	if body.LimitInt != nil && (*body.LimitInt < 1 || *body.LimitInt > 100) {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "limit_intensity must be 1-100", nil)
		return
	}

	owned, err := a.shockers.OwnedByCaller(r.Context(), user.UserID, shockerID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "ownership check failed", nil)
		return
	}
	if !owned {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "shocker not found", nil)
		return
	}

	share, err := a.shares.UpsertShare(r.Context(), models.ShockerShare{
		ShockerID:        shockerID,
		SharedWithUserID: recipientID,
		PermShock:        body.PermShock,
		PermVibrate:      body.PermVibrate,
		PermSound:        body.PermSound,
		PermLive:         body.PermLive,
		LimitDurationMS:  body.LimitDurMS,
		LimitIntensity:   body.LimitInt,
	})
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "share upsert failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"shocker_id":          share.ShockerID,
		"shared_with_user_id": share.SharedWithUserID,
		"perm_shock":          share.PermShock,
		"perm_vibrate":        share.PermVibrate,
		"perm_sound":          share.PermSound,
		"perm_live":           share.PermLive,
		"limit_duration_ms":   share.LimitDurationMS,
		"limit_intensity":     share.LimitIntensity,
	})
}

func (a *app) handleDeleteShare(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	shockerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid shocker id", nil)
		return
	}
	recipientID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid user id", nil)
		return
	}

	owned, err := a.shockers.OwnedByCaller(r.Context(), user.UserID, shockerID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "ownership check failed", nil)
		return
	}
	if !owned {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "shocker not found", nil)
		return
	}

	deleted, err := a.shares.DeleteShare(r.Context(), shockerID, recipientID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "share delete failed", nil)
		return
	}
	if !deleted {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "share not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleListShares(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	shockerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid shocker id", nil)
		return
	}
	owned, err := a.shockers.OwnedByCaller(r.Context(), user.UserID, shockerID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "ownership check failed", nil)
		return
	}
	if !owned {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "shocker not found", nil)
		return
	}

	shares, err := a.shares.ListSharesForShocker(r.Context(), shockerID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list shares", nil)
		return
	}
	out := make([]map[string]any, 0, len(shares))
	for _, s := range shares {
		out = append(out, map[string]any{
			"shared_with_user_id": s.SharedWithUserID,
			"perm_shock":          s.PermShock,
			"perm_vibrate":        s.PermVibrate,
			"perm_sound":          s.PermSound,
			"perm_live":           s.PermLive,
			"limit_duration_ms":   s.LimitDurationMS,
			"limit_intensity":     s.LimitIntensity,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"shares": out})
}

func (a *app) handleShockerLogs(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	shockerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid shocker id", nil)
		return
	}
	owned, err := a.shockers.OwnedByCaller(r.Context(), user.UserID, shockerID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "ownership check failed", nil)
		return
	}
	if !owned {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "shocker not found", nil)
		return
	}

	logs, err := a.logs.ListForShocker(r.Context(), shockerID, 100, 0)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list logs", nil)
		return
	}
	out := make([]map[string]any, 0, len(logs))
	for _, l := range logs {
		out = append(out, map[string]any{
			"log_id":        l.LogID,
			"controlled_by": l.ControlledByUserID,
			"type":          l.Type,
			"intensity_pct": l.IntensityPct,
			"duration_ms":   l.DurationMS,
			"created_at":    l.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"logs": out})
}

// pairCode returns a six digit code, zero padded.
func pairCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
