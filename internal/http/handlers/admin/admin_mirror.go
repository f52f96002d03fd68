package admin

import (
	"strconv"

	handlershared "github.com/lumina-pay/internal/http/handlers/shared"
	"github.com/lumina-pay/internal/http/response"
	"github.com/lumina-pay/internal/queue"
	"github.com/lumina-pay/internal/repository"

	"github.com/gin-gonic/gin"
)

// AdminListMirrorTasks 分页查询镜像同步任务。
func (h *Handler) AdminListMirrorTasks(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = handlershared.NormalizePagination(page, pageSize)

	tasks, total, err := h.MirrorTaskRepo.List(repository.MirrorTaskListFilter{
		Page:     page,
		PageSize: pageSize,
		UserID:   c.Query("user_id"),
		Status:   c.Query("status"),
	})
	if err != nil {
		respondError(c, response.CodeInternal, "查询镜像任务失败", err)
		return
	}
	response.SuccessWithPage(c, tasks, response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// AdminRetryMirrorTask 重投一条失败的镜像同步任务。
func (h *Handler) AdminRetryMirrorTask(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, "无效的任务 ID", err)
		return
	}
	task, err := h.MirrorTaskRepo.GetByID(uint(id))
	if err != nil {
		respondError(c, response.CodeInternal, "查询镜像任务失败", err)
		return
	}
	if task == nil {
		response.NotFound(c, "任务不存在")
		return
	}
	if h.QueueClient == nil || !h.QueueClient.Enabled() {
		respondError(c, response.CodeInternal, "队列未启用", nil)
		return
	}

	payload := queue.MirrorSyncPayload{TaskID: task.ID, UserID: task.UserID}
	if err := h.QueueClient.EnqueueMirrorSync(payload, h.Config.Mirror.SyncMaxRetry); err != nil {
		respondError(c, response.CodeInternal, "镜像任务入队失败", err)
		return
	}
	requestLog(c).Infow("admin_mirror_task_retried", "task_id", task.ID, "user_id", task.UserID)
	response.Success(c, task)
}
