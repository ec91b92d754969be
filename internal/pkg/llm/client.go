package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/faridhamidi/llm-council/config"
	"k8s.io/klog/v2"
)

const defaultTimeout = 2 * time.Minute

// Client 基于 Eino OpenAI ChatModel 的调用客户端。
// 每个模型标识对应一个缓存的 ChatModel 实例。
type Client struct {
	apiKey         string
	baseURL        string
	maxTokens      int
	requestTimeout time.Duration

	mu     sync.Mutex
	models map[string]model.ToolCallingChatModel

	// 测试可替换的工厂
	newChatModel func(modelID string, maxTokens int) (model.ToolCallingChatModel, error)
}

func NewClient(cfg *config.Config) *Client {
	c := &Client{
		apiKey:         cfg.LLM.APIKey,
		baseURL:        cfg.LLM.APIURL,
		maxTokens:      cfg.LLM.MaxTokens,
		requestTimeout: cfg.LLM.RequestTimeout,
		models:         make(map[string]model.ToolCallingChatModel),
	}
	c.newChatModel = c.openAIChatModel
	return c
}

func (c *Client) openAIChatModel(modelID string, maxTokens int) (model.ToolCallingChatModel, error) {
	klog.V(6).Infof("[llm.Client] 创建 ChatModel: model=%s, maxTokens=%d", modelID, maxTokens)

	conf := &openai.ChatModelConfig{
		APIKey: c.apiKey,
		Model:  modelID,
	}
	if c.baseURL != "" {
		conf.BaseURL = c.baseURL
	}
	if maxTokens > 0 {
		conf.MaxTokens = &maxTokens
	}
	return openai.NewChatModel(context.Background(), conf)
}

func (c *Client) chatModel(modelID string, maxTokens int) (model.ToolCallingChatModel, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	key := fmt.Sprintf("%s|%d", modelID, maxTokens)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cm, ok := c.models[key]; ok {
		return cm, nil
	}
	cm, err := c.newChatModel(modelID, maxTokens)
	if err != nil {
		return nil, err
	}
	c.models[key] = cm
	return cm, nil
}

func (c *Client) timeout(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if c.requestTimeout > 0 {
		return c.requestTimeout
	}
	return defaultTimeout
}

func buildMessages(req Request, withSystem bool) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.Messages)+1)
	if withSystem && req.SystemPrompt != "" {
		messages = append(messages, &schema.Message{Role: schema.System, Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		role := schema.User
		switch msg.Role {
		case RoleAssistant:
			role = schema.Assistant
		case RoleSystem:
			role = schema.System
		}
		messages = append(messages, &schema.Message{Role: role, Content: msg.Content})
	}
	return messages
}

// Invoke 同步调用一个模型。失败不抛 error，落在 Result.Err。
func (c *Client) Invoke(ctx context.Context, req Request) Result {
	cm, err := c.chatModel(req.Model, req.MaxTokens)
	if err != nil {
		return Result{Err: fmt.Sprintf("create chat model failed: %v", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout(req))
	defer cancel()

	resp, err := cm.Generate(callCtx, buildMessages(req, true))
	if err != nil && req.SystemPrompt != "" {
		// 部分模型不接受系统提示词：去掉后重试一次
		klog.V(6).Infof("[llm.Client] Generate 失败，去掉系统提示词重试: model=%s, err=%v", req.Model, err)
		resp, err = cm.Generate(callCtx, buildMessages(req, false))
		if err == nil {
			return Result{Text: resp.Content, SystemPromptDropped: true}
		}
	}
	if err != nil {
		klog.V(6).Infof("[llm.Client] Generate 失败: model=%s, err=%v", req.Model, err)
		return Result{Err: err.Error()}
	}
	return Result{Text: resp.Content}
}

// InvokeStream 流式调用一个模型，文本增量实时回调 onChunk。
// 中途出错时保留已产出文本并置 Partial=true。
func (c *Client) InvokeStream(ctx context.Context, req Request, onChunk ChunkFunc) Result {
	cm, err := c.chatModel(req.Model, req.MaxTokens)
	if err != nil {
		return Result{Err: fmt.Sprintf("create chat model failed: %v", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout(req))
	defer cancel()

	reader, err := cm.Stream(callCtx, buildMessages(req, true))
	if err != nil && req.SystemPrompt != "" {
		klog.V(6).Infof("[llm.Client] Stream 失败，去掉系统提示词重试: model=%s, err=%v", req.Model, err)
		if retryReader, retryErr := cm.Stream(callCtx, buildMessages(req, false)); retryErr == nil {
			result := c.drainStream(retryReader, onChunk)
			result.SystemPromptDropped = true
			return result
		}
	}
	if err != nil {
		klog.V(6).Infof("[llm.Client] Stream 失败: model=%s, err=%v", req.Model, err)
		return Result{Err: err.Error()}
	}
	return c.drainStream(reader, onChunk)
}

func (c *Client) drainStream(reader *schema.StreamReader[*schema.Message], onChunk ChunkFunc) Result {
	defer reader.Close()

	var builder strings.Builder
	for {
		chunk, err := reader.Recv()
		if err == io.EOF {
			return Result{Text: builder.String()}
		}
		if err != nil {
			text := builder.String()
			return Result{Text: text, Err: err.Error(), Partial: text != ""}
		}
		if chunk.Content == "" {
			continue
		}
		builder.WriteString(chunk.Content)
		if onChunk != nil {
			onChunk(chunk.Content)
		}
	}
}
