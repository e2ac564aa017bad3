package errcode

// 后台任务结果事件里的错误码：
// - 0：成功
// - 4xxx：结果可用但有降级（例如模型回复不是合法 JSON）
// - 5xxx：任务失败
const (
	OK               = 0
	AnalysisFallback = 4001
	NotConfigured    = 4003
	SystemError      = 5000
)
