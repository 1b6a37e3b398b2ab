package apimart

import "strings"

// createTaskResponse 用于解析创建任务接口的返回结构。
//
// APIMart 返回示例：
//
//	{
//	  "code": 200,
//	  "data": [
//	    {
//	      "status": "submitted",
//	      "task_id": "task_01K8SGYNNNVBQTXNR4MM964S7K"
//	    }
//	  ]
//	}
type createTaskResponse struct {
	Code int `json:"code"`
	Data []struct {
		Status string `json:"status"`
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// taskQueryResponse 解析查询任务结果中的任务状态与图片 URL 信息。
type taskQueryResponse struct {
	Code int `json:"code"`
	Data *struct {
		Status   string `json:"status,omitempty"`
		Progress int    `json:"progress,omitempty"`
		Result   *struct {
			// result.images[].url 是 URL 数组
			Images []struct {
				URL      []string `json:"url,omitempty"`
				ImageURL string   `json:"image_url,omitempty"`
			} `json:"images,omitempty"`
			ImageURL string `json:"image_url,omitempty"`
			URL      string `json:"url,omitempty"`
		} `json:"result,omitempty"`
		Results []struct {
			ImageURL string `json:"image_url,omitempty"`
			URL      string `json:"url,omitempty"`
		} `json:"results,omitempty"`
		Error *struct {
			Message string `json:"message,omitempty"`
		} `json:"error,omitempty"`
	} `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type state int

const (
	statePending state = iota
	stateSucceeded
	stateFailed
)

var successStatuses = map[string]bool{
	"succeeded": true,
	"success":   true,
	"completed": true,
	"finished":  true,
	"done":      true,
}

var failureStatuses = map[string]bool{
	"failed":    true,
	"failure":   true,
	"error":     true,
	"cancelled": true,
	"canceled":  true,
	"timeout":   true,
}

func taskState(resp *taskQueryResponse) state {
	status := strings.ToLower(resp.Data.Status)
	switch {
	case successStatuses[status]:
		return stateSucceeded
	case failureStatuses[status]:
		return stateFailed
	default:
		return statePending
	}
}

// extractFirstImageURL 提取任务结果中的首个图片 URL。
func extractFirstImageURL(resp *taskQueryResponse) string {
	if resp == nil || resp.Data == nil {
		return ""
	}

	if result := resp.Data.Result; result != nil {
		if len(result.Images) > 0 {
			img := result.Images[0]
			if len(img.URL) > 0 && img.URL[0] != "" {
				return img.URL[0]
			}
			if img.ImageURL != "" {
				return img.ImageURL
			}
		}
		if result.URL != "" {
			return result.URL
		}
		if result.ImageURL != "" {
			return result.ImageURL
		}
	}

	if len(resp.Data.Results) > 0 {
		if resp.Data.Results[0].URL != "" {
			return resp.Data.Results[0].URL
		}
		return resp.Data.Results[0].ImageURL
	}

	return ""
}
