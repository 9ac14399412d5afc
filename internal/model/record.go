package model

import (
	"fmt"
	"time"
)

// Collection 标识一类被索引的记录。
type Collection string

const (
	CollectionExercises Collection = "exercises"
	CollectionWorkouts  Collection = "workouts"
	CollectionKnowledge Collection = "knowledge"
)

// Collections 为全部集合，按初始化顺序排列。
var Collections = []Collection{CollectionExercises, CollectionWorkouts, CollectionKnowledge}

// 可过滤属性名。
const (
	AttrMuscleGroup = "muscle_group"
	AttrCategory    = "category"
	AttrUserID      = "user_id"
	// AttrSource 为知识库分块所属的对象 key。
	AttrSource = "source"
)

// IndexedRecord 是相似度索引中的一条记录，只由同步流程写入。
type IndexedRecord struct {
	ID         string            `json:"id"`
	Collection Collection        `json:"collection"`
	UserID     int64             `json:"user_id,omitempty"`
	Text       string            `json:"text"`
	Embedding  []float32         `json:"-"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// 训练记录专用
	WorkoutDate   time.Time `json:"workout_date,omitempty"`
	TotalVolume   float64   `json:"total_volume,omitempty"`
	CompletedSets int       `json:"completed_sets,omitempty"`

	// 知识库专用
	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attr 返回属性值，不存在时为空字符串。
func (r IndexedRecord) Attr(name string) string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[name]
}

// ScoredRecord 是带余弦相似度的检索结果，Similarity 取值 [-1, 1]。
type ScoredRecord struct {
	Record     IndexedRecord `json:"record"`
	Similarity float64       `json:"similarity"`
}

// ExerciseRecordID 等 ID 生成函数保证同一源实体重复同步时覆盖而非新增。
func ExerciseRecordID(exerciseID int64) string { return fmt.Sprintf("exercise-%d", exerciseID) }

func WorkoutRecordID(workoutLogID int64) string { return fmt.Sprintf("workout-%d", workoutLogID) }

func KnowledgeRecordID(objectKey string) string { return "knowledge-" + objectKey }
