package translator

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mononoSaya/auto-novel/internal/apperr"
)

const DefaultBaiduEndpoint = "https://fanyi-api.baidu.com/api/trans/vip/translate"

type BaiduConfig struct {
	AppID    string        `mapstructure:"app_id"`
	AppKey   string        `mapstructure:"app_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type baiduEngine struct {
	cfg        BaiduConfig
	httpClient *http.Client
}

// NewBaiduEngine translates through the Baidu general translation API.
// Every line of every query travels as one line of the request body.
func NewBaiduEngine(cfg BaiduConfig) (Engine, error) {
	if cfg.AppID == "" || cfg.AppKey == "" {
		return nil, fmt.Errorf("baidu app_id and app_key are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultBaiduEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &baiduEngine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (e *baiduEngine) Name() string { return "baidu" }

type baiduResponse struct {
	ErrorCode   string `json:"error_code"`
	ErrorMsg    string `json:"error_msg"`
	TransResult []struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	} `json:"trans_result"`
}

func (e *baiduEngine) Translate(ctx context.Context, from, to string, queries []string) ([]string, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	// The API answers one result per non-empty request line, so multi-line
	// queries are flattened and blank lines are kept locally.
	split := make([][]string, len(queries))
	var lines []string
	for i, q := range queries {
		split[i] = strings.Split(strings.ReplaceAll(q, "\r\n", "\n"), "\n")
		for _, line := range split[i] {
			if strings.TrimSpace(line) != "" {
				lines = append(lines, line)
			}
		}
	}

	var translated []string
	if len(lines) > 0 {
		var err error
		if translated, err = e.request(ctx, from, to, lines); err != nil {
			return nil, err
		}
	}

	ret := make([]string, len(queries))
	next := 0
	for i, parts := range split {
		out := make([]string, len(parts))
		for j, line := range parts {
			if strings.TrimSpace(line) == "" {
				out[j] = line
				continue
			}
			out[j] = translated[next]
			next++
		}
		ret[i] = strings.Join(out, "\n")
	}
	return ret, nil
}

// request sends lines as one newline-joined query and returns exactly one
// result per line.
func (e *baiduEngine) request(ctx context.Context, from, to string, lines []string) ([]string, error) {
	q := strings.Join(lines, "\n")
	salt := uuid.NewString()
	form := url.Values{
		"q":     {q},
		"from":  {from},
		"to":    {to},
		"appid": {e.cfg.AppID},
		"salt":  {salt},
		"sign":  {e.sign(q, salt)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("baidu request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("baidu request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var decoded baiduResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse baidu response: %w", err)
	}
	if decoded.ErrorCode != "" && decoded.ErrorCode != "52000" {
		return nil, fmt.Errorf("baidu error %s: %s", decoded.ErrorCode, decoded.ErrorMsg)
	}
	if len(decoded.TransResult) != len(lines) {
		return nil, apperr.ArityError(len(lines), len(decoded.TransResult))
	}

	ret := make([]string, len(decoded.TransResult))
	for i, r := range decoded.TransResult {
		ret[i] = r.Dst
	}
	return ret, nil
}

// sign is md5(appid + q + salt + key), lower hex.
func (e *baiduEngine) sign(q, salt string) string {
	sum := md5.Sum([]byte(e.cfg.AppID + q + salt + e.cfg.AppKey))
	return hex.EncodeToString(sum[:])
}
