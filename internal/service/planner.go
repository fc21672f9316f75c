package service

import (
	"strings"

	"github.com/localops/localops/internal/domain/plan"
)

// Planner synthesizes a plan from a natural-language intent. The control
// service takes it as a dependency so alternative planners can be plugged
// in without touching run creation.
type Planner func(intent string) plan.Plan

var planOutputs = []string{"report.md", "audit.json", "diff.patch"}

// RulePlanner is the default keyword-routing planner. Intents mentioning
// tests, builds, or log search map to fixed low-risk plans; everything
// else falls back to a medium-risk TODO/FIXME scan.
func RulePlanner(intent string) plan.Plan {
	lowered := strings.ToLower(intent)

	switch {
	case strings.Contains(intent, "单测") || strings.Contains(intent, "测试") || strings.Contains(lowered, "test"):
		return testPlan(intent)
	case strings.Contains(intent, "构建") || strings.Contains(lowered, "build"):
		return buildPlan(intent)
	case strings.Contains(intent, "日志") || strings.Contains(lowered, "error") || strings.Contains(intent, "错误"):
		return searchLogPlan(intent)
	}

	return plan.Plan{
		Version:     plan.SchemaVersion,
		Intent:      intent,
		RiskLevel:   plan.RiskMedium,
		Assumptions: []string{"按最小风险执行"},
		Steps: []plan.Step{
			{
				ID:       "s1",
				Type:     "inspect",
				Title:    "检查目录结构",
				Commands: []string{`rg -n "TODO|FIXME" .`},
			},
		},
		Outputs: planOutputs,
	}
}

func testPlan(intent string) plan.Plan {
	return plan.Plan{
		Version:     plan.SchemaVersion,
		Intent:      intent,
		RiskLevel:   plan.RiskLow,
		Assumptions: []string{"项目测试命令可用"},
		Steps: []plan.Step{
			{
				ID:       "s1",
				Type:     "inspect",
				Title:    "检查工作区",
				Commands: []string{"git status"},
			},
			{
				ID:       "s2",
				Type:     "execute",
				Title:    "运行测试",
				Commands: []string{"pytest -q"},
			},
		},
		Outputs: planOutputs,
	}
}

func buildPlan(intent string) plan.Plan {
	return plan.Plan{
		Version:     plan.SchemaVersion,
		Intent:      intent,
		RiskLevel:   plan.RiskLow,
		Assumptions: []string{"项目支持构建命令"},
		Steps: []plan.Step{
			{
				ID:       "s1",
				Type:     "inspect",
				Title:    "检查依赖",
				Commands: []string{"node -v", "pnpm -v"},
			},
			{
				ID:       "s2",
				Type:     "execute",
				Title:    "构建项目",
				Commands: []string{"pnpm build"},
			},
		},
		Outputs: planOutputs,
	}
}

func searchLogPlan(intent string) plan.Plan {
	return plan.Plan{
		Version:     plan.SchemaVersion,
		Intent:      intent,
		RiskLevel:   plan.RiskLow,
		Assumptions: []string{"日志文件可读"},
		Steps: []plan.Step{
			{
				ID:       "s1",
				Type:     "inspect",
				Title:    "搜索错误日志",
				Commands: []string{`rg -n "error|exception|traceback" .`},
			},
		},
		Outputs: planOutputs,
	}
}
