package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/characterchat/backend/internal/character"
	"github.com/characterchat/backend/internal/common"
)

type characterReq struct {
	Name        string `json:"name"`
	Age         int    `json:"age"`
	Profession  string `json:"profession"`
	Tone        string `json:"tone"`
	Description string `json:"description"`
}

func (r characterReq) toCharacter() *character.Character {
	return &character.Character{
		Name:        r.Name,
		Age:         r.Age,
		Profession:  r.Profession,
		Tone:        r.Tone,
		Description: r.Description,
	}
}

func failCharacterErr(c *gin.Context, err error) {
	var ve *character.ValidationError
	switch {
	case errors.As(err, &ve):
		common.Fail(c, http.StatusBadRequest, 10010, ve.Error())
	case errors.Is(err, character.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40410, "character not found")
	default:
		common.Fail(c, http.StatusInternalServerError, 50010, "internal error")
	}
}

func (h *Handler) CreateCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req characterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	created, err := h.CharSvc.Create(c.Request.Context(), uid, req.toCharacter())
	if err != nil {
		failCharacterErr(c, err)
		return
	}
	common.OK(c, created)
}

func (h *Handler) ListCharacters(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chars, err := h.CharSvc.List(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50010, "internal error")
		return
	}
	common.OK(c, gin.H{"characters": chars})
}

func (h *Handler) GetCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	ch, err := h.CharSvc.GetOwned(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failCharacterErr(c, err)
		return
	}
	common.OK(c, ch)
}

func (h *Handler) UpdateCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req characterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	updated, err := h.CharSvc.Update(c.Request.Context(), uid, c.Param("id"), req.toCharacter())
	if err != nil {
		failCharacterErr(c, err)
		return
	}
	common.OK(c, updated)
}

// SelectCharacter bumps last_used so bootstrap picks this character as
// the default next time.
func (h *Handler) SelectCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	ch, err := h.CharSvc.Select(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failCharacterErr(c, err)
		return
	}
	common.OK(c, ch)
}

func (h *Handler) DeleteCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	if err := h.CharSvc.Delete(c.Request.Context(), uid, c.Param("id")); err != nil {
		failCharacterErr(c, err)
		return
	}
	common.OK(c, gin.H{"deleted": true})
}
