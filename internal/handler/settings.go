package handler

import (
	"errors"
	"net/http"

	"github.com/faridhamidi/llm-council/internal/council"
	"github.com/faridhamidi/llm-council/internal/service"
	"github.com/gin-gonic/gin"
)

type SettingsHandler struct {
	service service.SettingsService
}

func NewSettingsHandler(service service.SettingsService) *SettingsHandler {
	return &SettingsHandler{service: service}
}

type SavePresetRequest struct {
	Name     string           `json:"name" binding:"required"`
	Settings council.Settings `json:"settings" binding:"required"`
}

func (h *SettingsHandler) Get(c *gin.Context) {
	settings, err := h.service.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *SettingsHandler) Update(c *gin.Context) {
	var settings council.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.service.Update(c.Request.Context(), settings)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSettings) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *SettingsHandler) ListPresets(c *gin.Context) {
	presets, err := h.service.ListPresets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, presets)
}

func (h *SettingsHandler) GetPreset(c *gin.Context) {
	preset, err := h.service.GetPreset(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrPresetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preset not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, preset)
}

// SavePreset 保存预设，同名覆盖
func (h *SettingsHandler) SavePreset(c *gin.Context) {
	var req SavePresetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	preset, err := h.service.SavePreset(c.Request.Context(), req.Name, req.Settings)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSettings) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, preset)
}

func (h *SettingsHandler) DeletePreset(c *gin.Context) {
	if err := h.service.DeletePreset(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, service.ErrPresetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preset not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "deleted": true})
}

// ApplyPreset 把预设应用为当前设置，成员 id 重铸
func (h *SettingsHandler) ApplyPreset(c *gin.Context) {
	settings, err := h.service.ApplyPreset(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrPresetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preset not found"})
			return
		}
		if errors.Is(err, service.ErrInvalidSettings) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}
