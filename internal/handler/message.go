package handler

import (
	"errors"
	"net/http"

	"github.com/faridhamidi/llm-council/internal/service"
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

type MessageHandler struct {
	service service.CouncilService
}

func NewMessageHandler(service service.CouncilService) *MessageHandler {
	return &MessageHandler{service: service}
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// Send 同步发送消息，阻塞到议会运行结束后返回完整结果
func (h *MessageHandler) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.service.SendMessage(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

// SendStream 流式发送消息，以 SSE 推送运行事件。
// 客户端断开视同取消运行。
func (h *MessageHandler) SendStream(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversationID := c.Param("id")
	run, err := h.service.SendMessageStream(conversationID, req.Content)
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			// 客户端断开与主动取消走同一条取消路径
			klog.V(6).Infof("[MessageHandler] 客户端断开, 取消运行: conversation=%s", conversationID)
			h.service.Cancel(conversationID)
			return
		case event, ok := <-run.Bridge.Events():
			if !ok {
				return
			}
			c.SSEvent("message", event)
			c.Writer.Flush()
		}
	}
}

// CancelStream 取消会话的活跃流式运行
func (h *MessageHandler) CancelStream(c *gin.Context) {
	cancelled := h.service.Cancel(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "cancelled": cancelled})
}
