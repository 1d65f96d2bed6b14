package pipeline

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer 上下文组装器使用的 token 计数接口。
type Tokenizer interface {
	CountTokens(text string) int
}

// TiktokenTokenizer 基于 tiktoken 的 token 计数器，
// 编码数据惰性初始化，初始化失败时回退到字符估算。
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	logger   *zap.Logger
}

// NewTiktokenTokenizer 创建 tiktoken 计数器。encoding 为空时使用 cl100k_base。
func NewTiktokenTokenizer(encoding string, logger *zap.Logger) *TiktokenTokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenTokenizer{
		encoding: encoding,
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = err
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens 返回文本的 token 数。
// 编码初始化失败时回退到 len(text)/4 估算并记录告警。
func (t *TiktokenTokenizer) CountTokens(text string) int {
	if err := t.init(); err != nil {
		t.logger.Warn("tiktoken init failed, falling back to estimate",
			zap.String("encoding", t.encoding),
			zap.Error(err))
		return len(text) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimateTokenizer 基于字符数的简单估算计数器，
// 不依赖编码数据下载，适合测试环境。
type EstimateTokenizer struct{}

// CountTokens 按平均 4 字符 1 token 估算（CJK 按 1.5 字符 1 token）。
func (EstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjk, other int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			cjk++
		} else {
			other++
		}
	}
	tokens := float64(cjk)/1.5 + float64(other)/4.0
	if tokens < 1 {
		return 1
	}
	return int(tokens)
}
