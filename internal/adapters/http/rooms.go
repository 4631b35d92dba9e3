package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/languages"
)

type roomHandlers struct {
	orch *orch.Orchestrator
}

type createRoomRequest struct {
	Name           string `json:"name"`
	Slug           string `json:"slug" binding:"required"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
	IsPublic       bool   `json:"isPublic"`
}

type updateRoomRequest struct {
	Name           *string `json:"name"`
	SourceLanguage *string `json:"sourceLanguage"`
	TargetLanguage *string `json:"targetLanguage"`
	IsPublic       *bool   `json:"isPublic"`
}

// languageParam accepts an empty value as "use the default".
func languageParam(s string) (languages.Code, error) {
	if s == "" {
		return "", nil
	}
	c, ok := languages.Parse(s)
	if !ok {
		return "", domain.ErrInvalidLanguage
	}
	return c, nil
}

func (h *roomHandlers) public(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Rooms.PublicRooms())
}

func (h *roomHandlers) mine(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Rooms.OwnerRooms(currentUser(c)))
}

func (h *roomHandlers) get(c *gin.Context) {
	st, ok := h.orch.Rooms.RoomStatus(c.Param("id"))
	if !ok {
		abortWithError(c, domain.ErrRoomNotFound)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *roomHandlers) create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, domain.ErrInvalidSlug)
		return
	}
	src, err := languageParam(req.SourceLanguage)
	if err != nil {
		abortWithError(c, err)
		return
	}
	tgt, err := languageParam(req.TargetLanguage)
	if err != nil {
		abortWithError(c, err)
		return
	}
	uid := currentUser(c)
	room, err := h.orch.Rooms.CreatePersistentRoom(c.Request.Context(), app.RoomOptions{
		Name:           req.Name,
		Slug:           domain.Slug(req.Slug),
		SourceLanguage: src,
		TargetLanguage: tgt,
		IsPublic:       req.IsPublic,
		OwnerID:        &uid,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *roomHandlers) update(c *gin.Context) {
	var req updateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, domain.ErrInvalidMessage)
		return
	}
	upd := domain.RoomUpdate{Name: req.Name, IsPublic: req.IsPublic}
	for _, f := range []struct {
		in  *string
		out **languages.Code
	}{
		{req.SourceLanguage, &upd.SourceLanguage},
		{req.TargetLanguage, &upd.TargetLanguage},
	} {
		if f.in == nil {
			continue
		}
		code, ok := languages.Parse(*f.in)
		if !ok {
			abortWithError(c, domain.ErrInvalidLanguage)
			return
		}
		*f.out = &code
	}

	room, err := h.orch.Rooms.UpdatePersistentRoom(c.Request.Context(), c.Param("id"), currentUser(c), upd)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *roomHandlers) remove(c *gin.Context) {
	if err := h.orch.Rooms.DeletePersistentRoom(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
