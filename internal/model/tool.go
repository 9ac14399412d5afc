package model

import "time"

// ToolCatalogVersion 随工具目录的不兼容变更递增。
const ToolCatalogVersion = "2"

const (
	ToolSearchExercises       = "search_exercises"
	ToolSearchUserWorkouts    = "search_user_workouts"
	ToolGetUserStats          = "get_user_stats"
	ToolGetUserWorkoutHistory = "get_user_workout_history"
	ToolSearchKnowledge       = "search_knowledge"
)

// MuscleGroups 是 muscle_group 参数允许的取值。
var MuscleGroups = []string{"CHEST", "BACK", "LEGS", "SHOULDERS", "ARMS", "CORE"}

// Property 描述一个工具参数（JSON Schema 子集）。
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *int     `json:"minimum,omitempty"`
	Maximum     *int     `json:"maximum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// ParameterSchema 是工具参数的 object schema。
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition 与具体模型供应商无关，由各适配器转换为自己的格式。
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ToolCall 是模型请求的一次工具调用。Arguments 来自 JSON 解码，数值为 float64。
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// WorkoutStats 由索引中训练记录的元数据聚合而来。
type WorkoutStats struct {
	Days                   int        `json:"days"`
	TotalWorkouts          int        `json:"totalWorkouts"`
	TotalVolume            float64    `json:"totalVolume"`
	TotalSets              int        `json:"totalSets"`
	AverageWorkoutsPerWeek float64    `json:"averageWorkoutsPerWeek"`
	LastWorkout            *time.Time `json:"lastWorkout,omitempty"`
}

// ToolResult 是单次工具执行的结果，只在一轮对话内有效。
// Error 非空时表示执行失败，其余字段无意义。
type ToolResult struct {
	Tool     string          `json:"tool"`
	Records  []ScoredRecord  `json:"records,omitempty"`
	Workouts []IndexedRecord `json:"workouts,omitempty"`
	Stats    *WorkoutStats   `json:"stats,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Failed 判断结果是否为错误标记。
func (r ToolResult) Failed() bool { return r.Error != "" }

// ToolErrorResult 构造错误标记结果。
func ToolErrorResult(tool, msg string) ToolResult {
	return ToolResult{Tool: tool, Error: msg}
}
