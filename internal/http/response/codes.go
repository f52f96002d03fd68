package response

// 业务状态码随 HTTP 200 信封返回，客户端只看 status_code 字段。
// 取值对齐 HTTP 语义，便于排查时直读。回调端点不走信封，回真实状态码。
const (
	CodeOK = 0

	// CodeBadRequest 参数不合法或业务规则不满足：区域不支持的支付方式、
	// 无效档位、订单已处于终态等。
	CodeBadRequest = 400

	// CodeUnauthorized 管理端登录失败或令牌无效。
	CodeUnauthorized = 401

	CodeNotFound        = 404
	CodeTooManyRequests = 429
	CodeInternal        = 500
)
