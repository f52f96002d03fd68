package shared

const (
	defaultPageSize = 20

	// maxPageSize 管理端流水/镜像任务列表的单页上限
	maxPageSize = 100
)

// NormalizePagination 归一化分页参数，越界取边界值。
func NormalizePagination(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
