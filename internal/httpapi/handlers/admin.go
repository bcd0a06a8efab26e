package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/characterchat/backend/internal/admin"
	"github.com/characterchat/backend/internal/common"
)

func adminIDFromContext(c *gin.Context) (uint64, bool) {
	return userIDFromContext(c)
}

func failAdminErr(c *gin.Context, err error) {
	if errors.Is(err, admin.ErrTargetNotFound) {
		common.Fail(c, http.StatusNotFound, 40420, "target not found")
		return
	}
	common.Fail(c, http.StatusInternalServerError, 50020, "internal error")
}

type flagReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) AdminFlagCharacter(c *gin.Context) {
	aid, okk := adminIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req flagReq
	_ = c.ShouldBindJSON(&req)

	if err := h.AdminSvc.FlagCharacter(c.Request.Context(), aid, c.Param("id"), req.Reason); err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, gin.H{"flagged": true})
}

func (h *Handler) AdminUnflagCharacter(c *gin.Context) {
	aid, okk := adminIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.AdminSvc.UnflagCharacter(c.Request.Context(), aid, c.Param("id")); err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, gin.H{"flagged": false})
}

func (h *Handler) AdminDeleteCharacter(c *gin.Context) {
	aid, okk := adminIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req flagReq
	_ = c.ShouldBindJSON(&req)

	if err := h.AdminSvc.DeleteCharacter(c.Request.Context(), aid, c.Param("id"), req.Reason); err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

func (h *Handler) AdminFlagSession(c *gin.Context) {
	aid, okk := adminIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req flagReq
	_ = c.ShouldBindJSON(&req)

	if err := h.AdminSvc.FlagSession(c.Request.Context(), aid, c.Param("id"), req.Reason); err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, gin.H{"flagged": true})
}

func (h *Handler) AdminUnflagSession(c *gin.Context) {
	aid, okk := adminIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.AdminSvc.UnflagSession(c.Request.Context(), aid, c.Param("id")); err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, gin.H{"flagged": false})
}

func (h *Handler) AdminDeleteSession(c *gin.Context) {
	aid, okk := adminIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req flagReq
	_ = c.ShouldBindJSON(&req)

	if err := h.AdminSvc.DeleteSession(c.Request.Context(), aid, c.Param("id"), req.Reason); err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

func (h *Handler) AdminListUsers(c *gin.Context) {
	if _, okk := adminIDFromContext(c); !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	users, err := h.AdminSvc.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, gin.H{"users": users})
}

func (h *Handler) AdminBlockUser(c *gin.Context) {
	aid, okk := adminIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	uid, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid user id")
		return
	}
	var req flagReq
	_ = c.ShouldBindJSON(&req)

	if err := h.AdminSvc.BlockUser(c.Request.Context(), aid, uid, req.Reason); err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, gin.H{"blocked": true})
}

func (h *Handler) AdminUnblockUser(c *gin.Context) {
	aid, okk := adminIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	uid, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid user id")
		return
	}

	if err := h.AdminSvc.UnblockUser(c.Request.Context(), aid, uid); err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, gin.H{"blocked": false})
}

// AdminLegacySession presents a user's pre-session message log as a
// synthetic read-only session.
func (h *Handler) AdminLegacySession(c *gin.Context) {
	if _, okk := adminIDFromContext(c); !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	uid, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid user id")
		return
	}

	sess, msgs, err := h.AdminSvc.LegacySession(c.Request.Context(), uid)
	if err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, gin.H{"session": sess, "messages": msgs})
}

func (h *Handler) AdminAuditLog(c *gin.Context) {
	if _, okk := adminIDFromContext(c); !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	entries, err := h.AdminSvc.AuditEntries(c.Request.Context(), limit, offset)
	if err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, gin.H{"entries": entries})
}

func (h *Handler) AdminAnalytics(c *gin.Context) {
	if _, okk := adminIDFromContext(c); !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	rollup, err := h.Analytics.Rollup(c.Request.Context())
	if err != nil {
		failAdminErr(c, err)
		return
	}
	common.OK(c, rollup)
}
