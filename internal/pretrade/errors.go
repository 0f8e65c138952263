package pretrade

import "errors"

// ErrInvalidRequest 标记调用方输入错误：请求格式不合法，不是交易决策。
var ErrInvalidRequest = errors.New("invalid trade request")

// ErrNoState 表示熔断器从未持久化过状态（首次运行）。
var ErrNoState = errors.New("no breaker state persisted")

// ErrCorruptState 表示持久化的熔断器状态不可读。
var ErrCorruptState = errors.New("breaker state corrupt")
