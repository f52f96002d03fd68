package app

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// HTTPService 支付网关 HTTP 服务，承载公开支付接口、提供方回调与管理端。
type HTTPService struct {
	name   string
	server *http.Server
}

// NewHTTPService 创建 HTTP 服务。
// PayPal 回调要在请求内完成验签与捕获的提供方往返，写超时必须盖住这段时间。
func NewHTTPService(name, addr string, handler http.Handler) *HTTPService {
	if name == "" {
		name = "gateway"
	}
	return &HTTPService{
		name: name,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
	}
}

// Name 服务名称
func (s *HTTPService) Name() string {
	if s == nil || s.name == "" {
		return "gateway"
	}
	return s.name
}

// Start 启动服务
func (s *HTTPService) Start(ctx context.Context) error {
	if s == nil || s.server == nil {
		return errors.New("http server not initialized")
	}
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅停机，等在途回调处理完再退。
func (s *HTTPService) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
