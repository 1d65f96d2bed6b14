// Copyright 2025-2026 FusionRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package retrieval 定义混合检索的证据数据模型和两路检索适配器。

向量存储返回文本块，时态知识图谱返回实体节点、关系边和路径。
本包把这些异构结果统一归一化为 [EvidenceItem]（以 [Origin] 标签区分来源），
供上层融合引擎以来源无关的方式重排。

# 核心接口/类型

  - EvidenceItem / RetrievalResult / QueryContext — 证据数据模型
  - VectorStore / GraphStore — 外部存储的窄接口（实际存储引擎不在本包范围内）
  - VectorAdapter / GraphAdapter — 把存储结果包装为统一 RetrievalResult
  - Normalizer — 存储原生结果 → EvidenceItem 的归一化器
  - TemporalFilter — 基于有效区间（valid_at / invalid_at）的时效过滤

# 时效语义

图谱中的关系边携带双时态有效区间。边在参考时间 t 有效当且仅当
valid_at <= t 且（invalid_at 未设置或 invalid_at > t）且未被标记过期。
缺失 valid_at 的图谱元素视为始终有效。区间畸形（invalid_at <= valid_at）
的边按无效处理并记录数据质量告警，绝不中断查询。

# 参考实现

InMemoryVectorStore 和 InMemoryGraphStore 是两个接口的内存参考实现，
用于测试和小规模应用，不依赖任何外部服务。
*/
package retrieval
