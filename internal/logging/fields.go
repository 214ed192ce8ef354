package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// JobFields 提供后台同步任务的统一字段，worker 与 dispatcher 共用。
func JobFields(jobKind string, jobID int64, attempt int) logrus.Fields {
	return logrus.Fields{
		"job_kind": jobKind,
		"job_id":   jobID,
		"attempt":  attempt,
	}
}
