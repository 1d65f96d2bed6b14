// Copyright 2025-2026 FusionRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package types 定义跨包共享的基础类型。

目前只包含统一的结构化错误类型：带错误码、来源标记和可重试标志的
[Error]，供检索、融合和管线各层统一使用。

# 错误处理约定

  - 单个检索来源的失败使用 ErrRetrievalFailed / ErrStoreTimeout，
    由管线降级为警告，不中断查询
  - 两路检索全部失败使用 ErrBothRetrievalsFailed，作为致命错误返回
  - ErrNoEvidence 表示检索成功但无证据，与检索失败严格区分
  - 使用 errors.Is / errors.As 判断错误，不比较字符串
*/
package types
