package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/unitreviews/backend/internal/apperr"
	"github.com/unitreviews/backend/internal/reviews"
	"github.com/unitreviews/backend/internal/setu"
	"go.uber.org/zap"
)

const (
	defaultReviewPageSize = 50
	maxReviewPageSize     = 200
	defaultSetuSeasons    = 12
)

func (h *httpHandler) handleListUnits(c *gin.Context) {
	units, err := h.reviews.ListUnits(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]unitResponsePayload, 0, len(units))
	for _, unit := range units {
		response = append(response, newUnitResponse(unit))
	}
	c.JSON(http.StatusOK, gin.H{"units": response})
}

func (h *httpHandler) handleGetUnit(c *gin.Context) {
	unit, err := h.reviews.GetUnit(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := newUnitResponse(unit)
	stored, ok, err := h.overviews.Get(c.Request.Context(), unit.ID)
	if err != nil {
		h.logger.Warn("overview lookup failed", zap.String("unit_code", unit.Code), zap.Error(err))
	} else if ok {
		response.Overview = newOverviewResponse(stored)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateUnit(c *gin.Context) {
	var request unitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	unit, err := h.reviews.CreateUnit(c.Request.Context(), reviews.UnitInput{
		Code:        request.Code,
		Name:        request.Name,
		Description: request.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUnitResponse(unit))
}

func (h *httpHandler) handleSetUnitTags(c *gin.Context) {
	var request unitTagsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	tags := make([]reviews.Tag, 0, len(request.Tags))
	for _, raw := range request.Tags {
		tag, ok := reviews.ParseTag(raw)
		if !ok {
			badRequest(c, "unknown_tag")
			return
		}
		tags = append(tags, tag)
	}
	unit, err := h.reviews.SetUnitTags(c.Request.Context(), c.Param("code"), tags)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUnitResponse(unit))
}

func (h *httpHandler) handleListUnitReviews(c *gin.Context) {
	limit := defaultReviewPageSize
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			badRequest(c, "invalid_limit")
			return
		}
		limit = min(parsed, maxReviewPageSize)
	}
	unitReviews, err := h.reviews.ListUnitReviews(c.Request.Context(), c.Param("code"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]reviewResponsePayload, 0, len(unitReviews))
	for _, review := range unitReviews {
		response = append(response, newReviewResponse(review))
	}
	c.JSON(http.StatusOK, gin.H{"reviews": response})
}

func (h *httpHandler) handleCreateReview(c *gin.Context) {
	var request reviewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	review, err := h.reviews.CreateReview(c.Request.Context(), currentUser(c).ID, c.Param("code"), request.toInput())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newReviewResponse(review))
}

func (h *httpHandler) handleUpdateReview(c *gin.Context) {
	var request reviewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	review, err := h.reviews.UpdateReview(c.Request.Context(), currentActor(c), c.Param("id"), request.toInput())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReviewResponse(review))
}

func (h *httpHandler) handleDeleteReview(c *gin.Context) {
	if err := h.reviews.DeleteReview(c.Request.Context(), currentActor(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleToggleReaction(c *gin.Context) {
	var request reactionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	result, err := h.reviews.ToggleReaction(c.Request.Context(), c.Param("id"), currentUser(c).ID, reviews.ReactionKind(request.Kind))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reactionResponsePayload{
		ReviewID: result.Review.ID,
		Likes:    result.Review.Likes,
		Dislikes: result.Review.Dislikes,
		Liked:    result.Liked,
		Disliked: result.Disliked,
	})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	notifications, err := h.reviews.ListNotifications(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]notificationResponsePayload, 0, len(notifications))
	unread := 0
	for _, notification := range notifications {
		if !notification.Read {
			unread++
		}
		response = append(response, newNotificationResponse(notification))
	}
	c.JSON(http.StatusOK, gin.H{"notifications": response, "unread": unread})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	notification, err := h.reviews.MarkNotificationRead(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNotificationResponse(notification))
}

func (h *httpHandler) handleDeleteNotification(c *gin.Context) {
	if err := h.reviews.DeleteNotification(c.Request.Context(), currentUser(c).ID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, newUserResponse(currentUser(c)))
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	actor := currentActor(c)
	target := strings.TrimSpace(c.Param("id"))
	if target == "me" {
		target = actor.UserID
	}
	if target != actor.UserID && !actor.IsAdmin {
		h.respondError(c, apperr.Forbidden("server.delete_user", "not_permitted", nil))
		return
	}
	result, err := h.reviews.DeleteUser(c.Request.Context(), target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	affected := result.AffectedUnitIDs
	if affected == nil {
		affected = []string{}
	}
	c.JSON(http.StatusOK, deleteUserResponsePayload{
		UserID:          result.UserID,
		DeletedReviews:  result.DeletedReviews,
		AffectedUnitIDs: affected,
		AssetRemoved:    result.AssetRemoved,
	})
}

func (h *httpHandler) handleListSetu(c *gin.Context) {
	code := strings.ToLower(strings.TrimSpace(c.Param("code")))
	if h.setu == nil {
		c.JSON(http.StatusOK, gin.H{"unit_code": code, "seasons": []setuResponsePayload{}})
		return
	}
	entries, err := h.setu.ListByUnit(c.Request.Context(), code, defaultSetuSeasons)
	if err != nil {
		h.respondError(c, apperr.External("server.list_setu", "store_failed", err))
		return
	}
	response := make([]setuResponsePayload, 0, len(entries))
	for _, entry := range entries {
		response = append(response, newSetuResponse(entry))
	}
	c.JSON(http.StatusOK, gin.H{"unit_code": code, "seasons": response})
}

func (h *httpHandler) handleUpsertSetu(c *gin.Context) {
	if h.setu == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "setu_store_unavailable", "code": "server.setu_store_unavailable"})
		return
	}
	var request setuRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	entry, err := setu.Entry{
		UnitCode:  c.Param("code"),
		Year:      request.Year,
		Period:    request.Period,
		Responses: request.Responses,
		Invited:   request.Invited,
		Items:     request.Items,
		Aggregate: request.Aggregate,
	}.Normalize()
	if err != nil {
		h.respondError(c, apperr.Validation("server.upsert_setu", "invalid_entry", err))
		return
	}
	if _, err := h.reviews.GetUnit(c.Request.Context(), entry.UnitCode); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.setu.Upsert(c.Request.Context(), entry); err != nil {
		h.respondError(c, apperr.External("server.upsert_setu", "store_failed", err))
		return
	}
	c.JSON(http.StatusOK, newSetuResponse(entry))
}

func (h *httpHandler) handleRefreshOverview(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	result, err := h.overviews.Refresh(c.Request.Context(), c.Param("code"), force)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := gin.H{"outcome": result.Outcome}
	if result.Overview.Summary != "" {
		response["ai_overview"] = newOverviewResponse(result.Overview)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleRunJob(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.jobs.RunOnce(c.Request.Context(), name); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"job": name, "status": "completed"})
	}
}
