package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"vasset/crawler/internal/models"
)

// ErrNoScore 分析结果中没有可用的相关度
var ErrNoScore = errors.New("analysis returned no relevance score")

// Result 内容分析结果, 字段均可缺失
type Result struct {
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
	SampleCount    *int     `json:"sample_count,omitempty"`
}

// Analyzer 内容分析协作方
type Analyzer interface {
	Analyze(ctx context.Context, video *models.Video, query string) (*Result, error)
}

// generateFunc 发送提示词并返回模型文本
type generateFunc func(ctx context.Context, prompt string) (string, error)

// GeminiAnalyzer 基于视频元数据让 Gemini 评估相关度
type GeminiAnalyzer struct {
	generate generateFunc
	model    string
	logger   *zap.Logger
}

// NewGeminiAnalyzer 创建 Gemini 分析器
func NewGeminiAnalyzer(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	a := &GeminiAnalyzer{model: model, logger: logger}
	a.generate = func(ctx context.Context, prompt string) (string, error) {
		result, err := client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), nil)
		if err != nil {
			return "", err
		}
		return result.Text(), nil
	}
	return a, nil
}

// Analyze 返回 0-1 的相关度
func (a *GeminiAnalyzer) Analyze(ctx context.Context, video *models.Video, query string) (*Result, error) {
	if video == nil {
		return nil, fmt.Errorf("video cannot be nil")
	}

	text, err := a.generate(ctx, buildPrompt(video, query))
	if err != nil {
		return nil, fmt.Errorf("failed to analyze video %s: %w", video.Key(), err)
	}

	result, err := parseResponse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse analysis response for video %s: %w", video.Key(), err)
	}

	a.logger.Debug("Video analyzed",
		zap.String("video", video.Key()),
		zap.Float64("relevance", *result.RelevanceScore))
	return result, nil
}

func buildPrompt(video *models.Video, query string) string {
	description := video.Description
	if r := []rune(description); len(r) > 500 {
		description = string(r[:500]) + "..."
	}

	return fmt.Sprintf(`You rate how relevant a video is to a search query, using only its metadata.

QUERY: %s

VIDEO:
- Platform: %s
- Title: %s
- Author: %s
- Duration: %d seconds
- Tags: %s
- Description: %s

Respond with JSON only:
{"relevance_score": <number between 0 and 1>, "sample_count": <number of metadata fields you used>}`,
		query, video.Platform, video.Title, video.Author.Name, video.DurationSeconds,
		strings.Join(video.Tags, ", "), description)
}

// parseResponse 提取模型输出中的 JSON 对象
func parseResponse(response string) (*Result, error) {
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")
	if startIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("no JSON found in response: %q", response)
	}

	var result Result
	if err := json.Unmarshal([]byte(response[startIdx:endIdx+1]), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if result.RelevanceScore == nil {
		return nil, ErrNoScore
	}

	score := *result.RelevanceScore
	switch {
	case score < 0:
		score = 0
	case score > 1:
		score = 1
	}
	result.RelevanceScore = &score
	return &result, nil
}
