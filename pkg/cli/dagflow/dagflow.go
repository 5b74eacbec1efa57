// Package dagflow 提供针对dagflow HTTP API的客户端
package dagflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/LENAX/dagflow/pkg/api/dto"
)

// Client HTTP API客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建API客户端
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ========== Pipeline API ==========

// ListPipelines 列出所有Pipeline
func (c *Client) ListPipelines() (*dto.ListResponse[dto.PipelineSummary], error) {
	var resp dto.APIResponse[dto.ListResponse[dto.PipelineSummary]]
	if err := c.get("/api/v1/pipelines", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// GetPipeline 获取Pipeline详情
func (c *Client) GetPipeline(id string) (*dto.PipelineDetail, error) {
	var resp dto.APIResponse[dto.PipelineDetail]
	if err := c.get("/api/v1/pipelines/"+id, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// UploadPipeline 上传Pipeline定义
func (c *Client) UploadPipeline(yamlContent string) (*dto.PipelineSummary, error) {
	req := dto.UploadPipelineRequest{Content: yamlContent}
	var resp dto.APIResponse[dto.PipelineSummary]
	if err := c.post("/api/v1/pipelines", req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// DeletePipeline 注销Pipeline
func (c *Client) DeletePipeline(id string) error {
	var resp dto.APIResponse[any]
	if err := c.delete("/api/v1/pipelines/"+id, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}

// SetPipelineStatus 启用或停用Pipeline
func (c *Client) SetPipelineStatus(id, status string) error {
	req := dto.SetStatusRequest{Status: status}
	var resp dto.APIResponse[any]
	if err := c.post("/api/v1/pipelines/"+id+"/status", req, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}

// TriggerRun 触发一次Run
func (c *Client) TriggerRun(id string, params map[string]interface{}) (*dto.TriggerResponse, error) {
	req := dto.TriggerRunRequest{Params: params}
	var resp dto.APIResponse[dto.TriggerResponse]
	if err := c.post("/api/v1/pipelines/"+id+"/trigger", req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// ListRuns 查询Pipeline的Run历史
func (c *Client) ListRuns(id string, limit int) (*dto.ListResponse[dto.RunSummary], error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	path := "/api/v1/pipelines/" + id + "/runs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp dto.APIResponse[dto.ListResponse[dto.RunSummary]]
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// ========== Run API ==========

// GetRun 获取Run详情
func (c *Client) GetRun(id string) (*dto.RunDetail, error) {
	var resp dto.APIResponse[dto.RunDetail]
	if err := c.get("/api/v1/runs/"+id, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// GetProgress 获取Run进度快照
func (c *Client) GetProgress(id string) (*dto.ProgressInfo, error) {
	var resp dto.APIResponse[dto.ProgressInfo]
	if err := c.get("/api/v1/runs/"+id+"/progress", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// CancelRun 取消Run
func (c *Client) CancelRun(id, reason string) error {
	req := dto.CancelRunRequest{Reason: reason}
	var resp dto.APIResponse[any]
	if err := c.post("/api/v1/runs/"+id+"/cancel", req, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}

// ========== Health API ==========

// Health 健康检查
func (c *Client) Health() (*dto.HealthResponse, error) {
	var resp dto.APIResponse[dto.HealthResponse]
	if err := c.get("/health", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// ========== HTTP Methods ==========

func (c *Client) get(path string, result interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) post(path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", reqBody)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) delete(path string, result interface{}) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) parseResponse(resp *http.Response, result interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("解析响应失败: %w, body: %s", err, string(body))
	}

	return nil
}
