package admin

import (
	"errors"

	"github.com/lumina-pay/internal/http/response"
	"github.com/lumina-pay/internal/service"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AdminLogin 管理员登录
func (h *Handler) AdminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数错误", err)
		return
	}

	token, expiresAt, err := h.AuthService.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			requestLog(c).Warnw("admin_login_failed",
				"username", req.Username,
				"client_ip", c.ClientIP(),
			)
			response.Unauthorized(c, "用户名或密码错误")
			return
		}
		respondError(c, response.CodeInternal, "登录失败", err)
		return
	}

	requestLog(c).Infow("admin_login_success",
		"username", req.Username,
		"client_ip", c.ClientIP(),
	)
	response.Success(c, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	})
}
