package payment

import "errors"

// 各适配器共用的错误分类。适配器内部的具体失败统一包装到这四类上，
// 上层用 errors.Is 判断并映射为 HTTP 状态码。
var (
	// ErrConfiguration 凭证缺失或输入非法，调用方可修复。
	ErrConfiguration = errors.New("payment: configuration invalid")

	// ErrProviderAPI 提供方接口调用失败（网络、非 2xx、响应不可解析）。
	ErrProviderAPI = errors.New("payment: provider api error")

	// ErrVerification 回调签名/验签失败，必须拒绝且不得落库。
	ErrVerification = errors.New("payment: verification failed")

	// ErrNotFound 交易不存在。
	ErrNotFound = errors.New("payment: transaction not found")
)
