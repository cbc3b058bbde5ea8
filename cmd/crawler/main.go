package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vasset/crawler/internal/app"
	"vasset/crawler/internal/config"
	"vasset/crawler/internal/logger"
	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

// unset 数值过滤条件未指定
const unset = -1

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		// 参数错误退出码为 2
		if errors.Is(err, utils.ErrInvalidRequest) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath      = flag.String("config", "", "config file (yaml)")
		query           = flag.String("q", "", "search query")
		platforms       = flag.String("platforms", "", "comma separated platforms, empty for all")
		maxResults      = flag.Int("max", unset, "max results per platform (default from config)")
		analyze         = flag.Bool("analyze", false, "blend in content analysis scores")
		minDuration     = flag.Int64("min-duration", unset, "minimum duration in seconds")
		maxDuration     = flag.Int64("max-duration", unset, "maximum duration in seconds")
		minViews        = flag.Int64("min-views", unset, "minimum view count")
		maxViews        = flag.Int64("max-views", unset, "maximum view count")
		minDate         = flag.String("min-date", "", "earliest upload date (YYYY-MM-DD)")
		filterPlatforms = flag.String("filter-platforms", "", "comma separated platforms to keep")
		download        = flag.Bool("download", false, "download matching videos")
		outputDir       = flag.String("output", "", "download directory (default from config)")
		timeout         = flag.Duration("timeout", 5*time.Minute, "overall timeout")
	)
	flag.Parse()

	if *query == "" && flag.NArg() > 0 {
		*query = strings.Join(flag.Args(), " ")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	zl, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer zl.Sync()

	apiReq := models.SearchAPIRequest{
		Query:           *query,
		Platforms:       splitList(*platforms),
		MaxResults:      optionalInt(*maxResults),
		AnalyzeContent:  *analyze,
		MinDuration:     optional(*minDuration),
		MaxDuration:     optional(*maxDuration),
		MinViews:        optional(*minViews),
		MaxViews:        optional(*maxViews),
		MinDate:         *minDate,
		FilterPlatforms: splitList(*filterPlatforms),
		Download:        *download,
		OutputDir:       *outputDir,
	}
	q, err := buildQuery(apiReq, cfg.Search.MaxResultsPerPlatform)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer a.Close()
	a.RefreshProxies(ctx)

	outcome, err := a.Search.Run(ctx, q)
	if err != nil {
		return err
	}
	zl.Info("Query finished",
		zap.String("query", q.Request.Query),
		zap.Int("videos", len(outcome.Videos)),
		zap.Int("downloaded", len(outcome.Downloads)),
		zap.Int("failed", len(outcome.Failed)))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(outcome)
}

// buildQuery 转换并校验参数, 在建立任何连接前拒绝非法请求
func buildQuery(apiReq models.SearchAPIRequest, defaultMax int) (models.Query, error) {
	q, err := apiReq.ToQuery(defaultMax)
	if err != nil {
		return models.Query{}, err
	}
	if err := q.Request.Validate(); err != nil {
		return models.Query{}, err
	}
	if err := q.Filter.Validate(); err != nil {
		return models.Query{}, err
	}
	return q, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// optionalInt 未指定时交给配置默认值, 显式的 0 或负数留给校验拒绝
func optionalInt(v int) *int {
	if v == unset {
		return nil
	}
	return &v
}

func optional(v int64) *int64 {
	if v == unset {
		return nil
	}
	return &v
}
