// Copyright 2025-2026 FusionRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package config 提供统一的配置加载。

配置优先级：默认值 → YAML 文件 → 环境变量（前缀 FUSIONRAG_）。
全部组件配置通过显式结构体传入，不使用全局单例，便于隔离测试。
*/
package config
