package pipeline

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/fusion"
	"github.com/BaSui01/fusionrag/retrieval"
)

// NoEvidenceContext 是融合集为空时返回的显式哨兵文本，
// 调用方据此在调用答案合成之前短路，绝不把空字符串交给下游。
const NoEvidenceContext = "no evidence found"

// AssemblerConfig 上下文组装配置。
type AssemblerConfig struct {
	// MaxItems 进入上下文的最大证据条数
	MaxItems int `json:"max_items" yaml:"max_items"`
	// MaxChars 上下文字符预算，0 表示不限
	MaxChars int `json:"max_chars" yaml:"max_chars"`
	// MaxTokens 上下文 token 预算，0 表示不限
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	// ExcerptLength 归因条目中摘录的最大长度
	ExcerptLength int `json:"excerpt_length" yaml:"excerpt_length"`
}

// DefaultAssemblerConfig 返回默认组装配置。
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		MaxItems:      10,
		MaxChars:      12000,
		MaxTokens:     3000,
		ExcerptLength: 120,
	}
}

// Attribution 是上下文中一条证据的来源归因，供下游展示。
type Attribution struct {
	Origin  retrieval.Origin `json:"origin"`
	ID      string           `json:"id"`
	Excerpt string           `json:"excerpt"`
}

// Assembler 把融合证据集组装为带来源标记的上下文文本。
// 超出预算时整条丢弃队尾证据，绝不截断单条证据的文本。
type Assembler struct {
	cfg       AssemblerConfig
	tokenizer Tokenizer
	logger    *zap.Logger
}

// NewAssembler 创建上下文组装器。tokenizer 为 nil 时使用字符估算。
func NewAssembler(cfg AssemblerConfig, tokenizer Tokenizer, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenizer == nil {
		tokenizer = EstimateTokenizer{}
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultAssemblerConfig().MaxItems
	}
	if cfg.ExcerptLength <= 0 {
		cfg.ExcerptLength = DefaultAssemblerConfig().ExcerptLength
	}
	return &Assembler{
		cfg:       cfg,
		tokenizer: tokenizer,
		logger:    logger.With(zap.String("component", "assembler")),
	}
}

// Assemble 取融合集的前 MaxItems 条证据，按来源标记拼接为上下文，
// 并产出与之平行的归因列表。融合集为空时返回 NoEvidenceContext 哨兵。
func (a *Assembler) Assemble(set *fusion.FusedEvidenceSet) (string, []Attribution) {
	if set.Len() == 0 {
		return NoEvidenceContext, nil
	}

	items := set.Items
	if len(items) > a.cfg.MaxItems {
		items = items[:a.cfg.MaxItems]
	}

	var b strings.Builder
	var attributions []Attribution
	chars := 0
	tokens := 0
	included := 0

	for _, item := range items {
		block := a.formatItem(item)
		blockChars := len(block)
		var blockTokens int
		if a.cfg.MaxTokens > 0 {
			blockTokens = a.tokenizer.CountTokens(block)
		}

		// 预算耗尽即停止：整条丢弃，不截断证据文本
		if a.cfg.MaxChars > 0 && chars+blockChars > a.cfg.MaxChars && included > 0 {
			break
		}
		if a.cfg.MaxTokens > 0 && tokens+blockTokens > a.cfg.MaxTokens && included > 0 {
			break
		}

		b.WriteString(block)
		chars += blockChars
		tokens += blockTokens
		included++

		attributions = append(attributions, Attribution{
			Origin:  item.Origin,
			ID:      item.ID,
			Excerpt: excerpt(item.Text, a.cfg.ExcerptLength),
		})
	}

	a.logger.Debug("context assembled",
		zap.Int("included", included),
		zap.Int("dropped", len(items)-included),
		zap.Int("chars", chars))

	return b.String(), attributions
}

// formatItem 给单条证据加来源标记分隔符。
func (a *Assembler) formatItem(item fusion.FusedItem) string {
	return fmt.Sprintf("[%s %s]\n%s\n\n", item.Origin, item.ID, item.Text)
}

func excerpt(text string, max int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
