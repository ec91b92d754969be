package handler

import (
	"errors"
	"net/http"

	"github.com/faridhamidi/llm-council/internal/repository"
	"github.com/faridhamidi/llm-council/internal/service"
	"github.com/gin-gonic/gin"
)

type ConversationHandler struct {
	service   service.ConversationService
	usageRepo repository.RunUsageRepository
}

func NewConversationHandler(service service.ConversationService, usageRepo repository.RunUsageRepository) *ConversationHandler {
	return &ConversationHandler{service: service, usageRepo: usageRepo}
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type UpdateTitleRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *ConversationHandler) Create(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversation, err := h.service.Create(c.Request.Context(), req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conversation)
}

func (h *ConversationHandler) List(c *gin.Context) {
	conversations, err := h.service.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conversations)
}

func (h *ConversationHandler) ListTrash(c *gin.Context) {
	conversations, err := h.service.ListTrash(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conversations)
}

func (h *ConversationHandler) Get(c *gin.Context) {
	conversation, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// Delete 软删除，移入回收站
func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "deleted": true})
}

// Restore 从回收站恢复
func (h *ConversationHandler) Restore(c *gin.Context) {
	conversation, err := h.service.Restore(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found in trash"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "restored": true, "conversation": conversation})
}

// Purge 彻底删除会话及其消息
func (h *ConversationHandler) Purge(c *gin.Context) {
	if err := h.service.Purge(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "purged": true})
}

func (h *ConversationHandler) UpdateTitle(c *gin.Context) {
	var req UpdateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.UpdateTitle(c.Request.Context(), c.Param("id"), req.Title); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Usage 会话的运行用量统计
func (h *ConversationHandler) Usage(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.service.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	usages, err := h.usageRepo.GetByConversation(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := h.usageRepo.TotalTokens(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_tokens": total, "runs": usages})
}
