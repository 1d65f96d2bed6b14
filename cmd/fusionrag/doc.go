// Copyright (c) FusionRAG Authors.
// Licensed under the MIT License.

/*
Package main 提供 FusionRAG 服务端程序入口。

# 概述

cmd/fusionrag 是混合检索融合服务的可执行入口，提供 HTTP 查询 API、
一次性命令行查询、健康检查和版本查询等子命令。程序支持 YAML 配置文件
加载、结构化日志（zap）、Prometheus 指标采集以及 OpenTelemetry 追踪。

# 核心类型

  - Server           — 主服务器，管理查询、Metrics 双端口及优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、query（命令行单次查询）、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、RequestLogger、
    RateLimiter（基于 IP）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭查询端口 → 关闭 Metrics → 释放缓存连接
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
