// Copyright 2025-2026 FusionRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package fusion 实现跨来源证据融合与重排引擎。

两路检索（向量 / 图谱）的结果列表在这里合并为一个统一排序的证据集。
分数跨来源不可直接比较，所以融合基于排名（RRF）、归一化分数（MMR）
或外部重排器的打分，而不是原始分数的直接混合。

# 融合策略

  - RRF（Reciprocal Rank Fusion，默认）：每条证据的融合分数为其在各
    列表中排名的倒数和 Σ 1/(k+rank)，k 默认 60。同一实体被两路同时
    命中时倒数排名相加，奖励跨方法一致性。
  - MMR（Maximal Marginal Relevance）：迭代选择最大化
    λ·relevance − (1−λ)·max_similarity 的证据，在相关性与多样性之间
    平衡，λ 默认 0.5。
  - 外部重排直通：候选组装后交给注入的 rerank.Provider 打分，
    引擎只按返回分数排序。

# 合并策略

同一实体经两路检索同时命中时的处理是可配置的：默认只在存在可靠
交叉引用键（CrossRef）时合并，合并保留图谱侧的解释性文本和两侧中
较高的来源内分数，同时记录两个原始排名供 RRF 使用；无可靠键时保守
地保留为独立证据。相同 ID 的命中永远去重（输出集合内无重复 ID）。

# 确定性

相同输入两次融合产生相同排序：排序键为（融合分数，合并插入顺序），
插入顺序固定为向量列表在前、图谱列表在后，不依赖适配器完成时序。
*/
package fusion
