// Package sandbox 是 Agent 沙箱的 Go SDK：创建、查询、删除远端临时沙箱，
// 并通过其数据面地址操作沙箱内的文件系统、执行代码、获取浏览器 CDP 地址。
//
// # 核心概念
//
//   - Provider: 沙箱生命周期后端，如 providers/volcengine（火山引擎 veFaaS）和 providers/kubernetes
//   - Descriptor: 沙箱描述，只有 Running 状态的沙箱携带数据面地址 Endpoint
//   - Session: 到一个运行中沙箱的数据面会话，提供 Files、Jupyter、NodeJS、Shell、Browser 子客户端
//   - Client: 组合 Provider 和 Session 的高级客户端
//
// # 快速开始
//
//	provider, err := volcengine.NewProvider(&volcengine.Config{
//	    Credentials: credentials.Default(),
//	})
//	c, err := sandbox.NewClient(&sandbox.Config{Provider: provider})
//
//	d, err := c.CreateAndWait(ctx, functionID, []sandbox.CreateOption{sandbox.WithTimeout(30)},
//	    sandbox.WithPollInterval(2*time.Second))
//	defer c.DeleteSandbox(ctx, functionID, d.SandboxID)
//
//	s, err := c.Connect(d)
//	s.Files().WriteFile(ctx, "/tmp/hello.txt", "hi", sandbox.EncodingRawText)
//	result, err := s.Jupyter().Run(ctx, "print(1 + 1)")
//	fmt.Print(result.Text())
//
// 直接访问已知地址的沙箱:
//
//	s, err := sandbox.NewSession(&sandbox.SessionConfig{BaseURL: "http://localhost:8080"})
//
// # 错误处理
//
// 所有操作失败时返回 *Error，通过 Kind 区分类别，可以用哨兵错误判断:
//
//	if errors.Is(err, sandbox.ErrNotFound) { ... }
//	if sandbox.SafeToRetry(err) { ... }
//
// 生命周期调用在控制面暂不可用（网络错误、5xx、限流）时按退避策略自动重试；
// 数据面调用不会自动重试。
//
// # 轮询选项
//
// [Client.WaitUntilRunning] 和 [Client.CreateAndWait] 支持通过 [PollOption] 自定义轮询行为:
//
//   - [WithPollInterval]: 设置轮询间隔
//   - [WithBackoff]: 设置指数退避倍数和上限
//   - [WithPollPolicy]: 使用 backoff 包中的退避器
//   - [WithOnPoll]: 注册轮询回调（用于日志或进度展示）
package sandbox
