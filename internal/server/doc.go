// Copyright 2025-2026 FusionRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

查询服务和 Prometheus 指标服务各自持有一个 Manager，
统一走 Start/Shutdown/WaitForShutdown 流程，收到
SIGINT/SIGTERM 后在配置的超时内完成请求排空。
*/
package server
