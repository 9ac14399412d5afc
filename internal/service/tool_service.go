package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/internal/repository"
	"gym-coach-go/pkg/log"
)

// Embedder 把查询文本转换为向量。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ToolService 定义了检索工具的目录与执行接口。
// 执行失败以带错误标记的 ToolResult 返回，不会中断同批次的其他调用。
type ToolService interface {
	Catalog() []model.ToolDefinition
	Version() string
	Execute(ctx context.Context, call model.ToolCall, userID *int64) model.ToolResult
	ExecuteMany(ctx context.Context, calls []model.ToolCall, userID *int64) []model.ToolResult
}

type toolService struct {
	embedder  Embedder
	vectors   repository.VectorRepository
	vectorCfg config.VectorConfig
	catalog   []model.ToolDefinition
	byName    map[string]model.ToolDefinition
	now       func() time.Time
}

// NewToolService 创建一个新的 ToolService 实例。
func NewToolService(embedder Embedder, vectors repository.VectorRepository, vectorCfg config.VectorConfig) ToolService {
	catalog := buildCatalog()
	byName := make(map[string]model.ToolDefinition, len(catalog))
	for _, d := range catalog {
		byName[d.Name] = d
	}
	return &toolService{
		embedder:  embedder,
		vectors:   vectors,
		vectorCfg: vectorCfg,
		catalog:   catalog,
		byName:    byName,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func intPtr(v int) *int { return &v }

func buildCatalog() []model.ToolDefinition {
	return []model.ToolDefinition{
		{
			Name:        model.ToolSearchExercises,
			Description: "Search for exercise information, techniques, and recommendations. Use this when user asks about specific exercises, muscle groups, or workout techniques.",
			Parameters: model.ParameterSchema{
				Type: "object",
				Properties: map[string]model.Property{
					"query":        {Type: "string", Description: "Search query (e.g., 'chest exercises', 'how to do squat')"},
					"muscle_group": {Type: "string", Description: "Optional muscle group filter", Enum: model.MuscleGroups},
					"limit":        {Type: "integer", Description: "Number of results (default 5)", Minimum: intPtr(1), Maximum: intPtr(20), Default: 5},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        model.ToolSearchUserWorkouts,
			Description: "Search user's past workout logs by content. Use this when user asks about their own past sessions, progress on an exercise, or what they did in a kind of workout.",
			Parameters: model.ParameterSchema{
				Type: "object",
				Properties: map[string]model.Property{
					"query": {Type: "string", Description: "Search query (e.g., 'my chest workouts', 'heavy squat sessions')"},
					"limit": {Type: "integer", Description: "Number of results (default 5)", Minimum: intPtr(1), Maximum: intPtr(20), Default: 5},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        model.ToolGetUserStats,
			Description: "Get user's workout statistics and progress summary. Use this when user asks about their overall progress, frequency, or training volume.",
			Parameters: model.ParameterSchema{
				Type: "object",
				Properties: map[string]model.Property{
					"days": {Type: "integer", Description: "Number of days to look back (default 30)", Minimum: intPtr(1), Maximum: intPtr(365), Default: 30},
				},
			},
		},
		{
			Name:        model.ToolGetUserWorkoutHistory,
			Description: "Get chronological list of user's workout dates and summaries. Use this when user asks 'what dates did I workout', 'list all my workouts', or which days they trained.",
			Parameters: model.ParameterSchema{
				Type: "object",
				Properties: map[string]model.Property{
					"days":  {Type: "integer", Description: "Number of days to look back (default 30, max 180)", Minimum: intPtr(1), Maximum: intPtr(180), Default: 30},
					"limit": {Type: "integer", Description: "Maximum number of workouts to return (default 20, max 100)", Minimum: intPtr(1), Maximum: intPtr(100), Default: 20},
				},
			},
		},
		{
			Name:        model.ToolSearchKnowledge,
			Description: "Search curated training knowledge articles (programming, recovery, nutrition basics). Use this for general training questions that are not about one specific exercise.",
			Parameters: model.ParameterSchema{
				Type: "object",
				Properties: map[string]model.Property{
					"query":    {Type: "string", Description: "Search query (e.g., 'deload week', 'protein timing')"},
					"category": {Type: "string", Description: "Optional article category, e.g. recovery or nutrition"},
					"limit":    {Type: "integer", Description: "Number of results (default 5)", Minimum: intPtr(1), Maximum: intPtr(20), Default: 5},
				},
				Required: []string{"query"},
			},
		},
	}
}

// Catalog 返回工具目录的副本。
func (s *toolService) Catalog() []model.ToolDefinition {
	out := make([]model.ToolDefinition, len(s.catalog))
	copy(out, s.catalog)
	return out
}

func (s *toolService) Version() string { return model.ToolCatalogVersion }

// ExecuteMany 按调用顺序依次执行，结果顺序与输入一致。
func (s *toolService) ExecuteMany(ctx context.Context, calls []model.ToolCall, userID *int64) []model.ToolResult {
	results := make([]model.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, s.Execute(ctx, call, userID))
	}
	return results
}

// Execute 校验参数后分发到具体工具。
func (s *toolService) Execute(ctx context.Context, call model.ToolCall, userID *int64) model.ToolResult {
	def, ok := s.byName[call.Name]
	if !ok {
		log.Warnf("[ToolService] unknown tool requested: %s", call.Name)
		return model.ToolErrorResult(call.Name, fmt.Sprintf("Unknown tool: %s", call.Name))
	}
	args, err := validateArguments(def, call.Arguments)
	if err != nil {
		log.Warnf("[ToolService] invalid arguments for %s: %v", call.Name, err)
		return model.ToolErrorResult(call.Name, err.Error())
	}
	log.Infof("[ToolService] executing %s, args: %v", call.Name, args)

	switch call.Name {
	case model.ToolSearchExercises:
		filter := map[string]string{}
		if mg := args.str("muscle_group"); mg != "" {
			filter[model.AttrMuscleGroup] = mg
		}
		return s.search(ctx, call.Name, model.CollectionExercises, args.str("query"), args.int("limit"), filter)
	case model.ToolSearchKnowledge:
		filter := map[string]string{}
		// 同步时分类统一存为小写
		if c := strings.ToLower(args.str("category")); c != "" {
			filter[model.AttrCategory] = c
		}
		return s.search(ctx, call.Name, model.CollectionKnowledge, args.str("query"), args.int("limit"), filter)
	case model.ToolSearchUserWorkouts:
		if userID == nil {
			return model.ToolErrorResult(call.Name, "user is not signed in, personal workouts are unavailable")
		}
		filter := map[string]string{model.AttrUserID: strconv.FormatInt(*userID, 10)}
		return s.search(ctx, call.Name, model.CollectionWorkouts, args.str("query"), args.int("limit"), filter)
	case model.ToolGetUserStats:
		if userID == nil {
			return model.ToolErrorResult(call.Name, "user is not signed in, statistics are unavailable")
		}
		return s.userStats(ctx, *userID, args.int("days"))
	case model.ToolGetUserWorkoutHistory:
		if userID == nil {
			return model.ToolErrorResult(call.Name, "user is not signed in, workout history is unavailable")
		}
		return s.workoutHistory(ctx, *userID, args.int("days"), args.int("limit"))
	}
	return model.ToolErrorResult(call.Name, fmt.Sprintf("Unknown tool: %s", call.Name))
}

func (s *toolService) search(ctx context.Context, tool string, collection model.Collection, query string, limit int, filter map[string]string) model.ToolResult {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		log.Errorf("[ToolService] %s: embedding query failed: %v", tool, err)
		return model.ToolErrorResult(tool, fmt.Sprintf("could not retrieve %s", collection))
	}
	hits, err := s.vectors.Search(ctx, collection, repository.SearchQuery{
		Vector: vec,
		TopK:   limit,
		Floor:  s.vectorCfg.Floor(string(collection)),
		Filter: filter,
	})
	if err != nil {
		log.Errorf("[ToolService] %s: vector search failed: %v", tool, err)
		return model.ToolErrorResult(tool, fmt.Sprintf("could not retrieve %s", collection))
	}
	return model.ToolResult{Tool: tool, Records: hits}
}

func (s *toolService) recentWorkouts(ctx context.Context, userID int64, days, limit int) ([]model.IndexedRecord, error) {
	since := s.now().AddDate(0, 0, -days)
	return s.vectors.List(ctx, model.CollectionWorkouts, repository.ListQuery{
		Filter: map[string]string{model.AttrUserID: strconv.FormatInt(userID, 10)},
		Since:  since,
		Limit:  limit,
	})
}

// userStats 直接从索引中训练记录的元数据聚合统计。
func (s *toolService) userStats(ctx context.Context, userID int64, days int) model.ToolResult {
	workouts, err := s.recentWorkouts(ctx, userID, days, 0)
	if err != nil {
		log.Errorf("[ToolService] get_user_stats failed: %v", err)
		return model.ToolErrorResult(model.ToolGetUserStats, "could not retrieve workout statistics")
	}
	stats := &model.WorkoutStats{Days: days, TotalWorkouts: len(workouts)}
	for _, w := range workouts {
		stats.TotalVolume += w.TotalVolume
		stats.TotalSets += w.CompletedSets
	}
	stats.AverageWorkoutsPerWeek = math.Round(float64(stats.TotalWorkouts)/(float64(days)/7)*10) / 10
	if len(workouts) > 0 {
		last := workouts[0].WorkoutDate
		stats.LastWorkout = &last
	}
	return model.ToolResult{Tool: model.ToolGetUserStats, Stats: stats}
}

func (s *toolService) workoutHistory(ctx context.Context, userID int64, days, limit int) model.ToolResult {
	workouts, err := s.recentWorkouts(ctx, userID, days, limit)
	if err != nil {
		log.Errorf("[ToolService] get_user_workout_history failed: %v", err)
		return model.ToolErrorResult(model.ToolGetUserWorkoutHistory, "could not retrieve workout history")
	}
	if workouts == nil {
		workouts = []model.IndexedRecord{}
	}
	return model.ToolResult{Tool: model.ToolGetUserWorkoutHistory, Workouts: workouts}
}

// toolArgs 是校验并规范化后的参数：字符串已去空白，整数已套用默认值与范围。
type toolArgs map[string]any

func (a toolArgs) str(name string) string {
	v, _ := a[name].(string)
	return v
}

func (a toolArgs) int(name string) int {
	v, _ := a[name].(int)
	return v
}

// validateArguments 按参数 schema 校验：缺少必填参数、类型不符或枚举值非法时返回校验错误。
// 未声明的参数被忽略；整数超出范围时收敛到边界。
func validateArguments(def model.ToolDefinition, raw map[string]any) (toolArgs, error) {
	args := toolArgs{}
	for _, name := range def.Parameters.Required {
		v, ok := raw[name]
		if !ok || v == nil {
			return nil, model.Validationf("missing required argument %q", name)
		}
	}
	for name, prop := range def.Parameters.Properties {
		v, present := raw[name]
		if !present || v == nil {
			if prop.Default != nil {
				args[name] = prop.Default
			}
			continue
		}
		switch prop.Type {
		case "string":
			s, ok := v.(string)
			if !ok {
				return nil, model.Validationf("argument %q must be a string", name)
			}
			s = strings.TrimSpace(s)
			if len(prop.Enum) > 0 && s != "" {
				matched := ""
				for _, e := range prop.Enum {
					if strings.EqualFold(e, s) {
						matched = e
						break
					}
				}
				if matched == "" {
					return nil, model.Validationf("argument %q must be one of %s", name, strings.Join(prop.Enum, ", "))
				}
				s = matched
			}
			if s == "" && isRequired(def, name) {
				return nil, model.Validationf("argument %q cannot be empty", name)
			}
			args[name] = s
		case "integer":
			n, ok := toInt(v)
			if !ok {
				return nil, model.Validationf("argument %q must be an integer", name)
			}
			if prop.Minimum != nil && n < *prop.Minimum {
				n = *prop.Minimum
			}
			if prop.Maximum != nil && n > *prop.Maximum {
				n = *prop.Maximum
			}
			args[name] = n
		default:
			args[name] = v
		}
	}
	return args, nil
}

func isRequired(def model.ToolDefinition, name string) bool {
	for _, r := range def.Parameters.Required {
		if r == name {
			return true
		}
	}
	return false
}

// toInt 接受 JSON 数字、整数字符串以及值为整数的浮点数。
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}
