package job

// Stats 聚合了任务状态的统计信息，供健康检查与接口查询使用。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *Stats) add(j *Job) {
	s.Total++
	switch j.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	if j.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = j.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (j.UpdatedAt != 0 && j.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = j.UpdatedAt
	}
}
