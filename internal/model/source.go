package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Exercise 是后端导出的动作数据。
type Exercise struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	MuscleGroup string    `json:"muscleGroup"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// EmbeddingText 生成用于向量化的文本。
func (e Exercise) EmbeddingText() string {
	var parts []string
	if e.Name != "" {
		parts = append(parts, e.Name)
	}
	if e.MuscleGroup != "" {
		parts = append(parts, "Muscle Group: "+e.MuscleGroup)
	}
	if e.Description != "" {
		parts = append(parts, "Description: "+e.Description)
	}
	if len(parts) == 0 {
		return "Unknown Exercise"
	}
	return strings.Join(parts, " | ")
}

// WorkoutSet 是训练中的一组。
type WorkoutSet struct {
	ExerciseName string  `json:"exerciseName"`
	Reps         int     `json:"reps"`
	Weight       float64 `json:"weight"`
	IsCompleted  bool    `json:"isCompleted"`
}

// WorkoutLog 是后端的一次训练记录。LogDate 为 YYYY-MM-DD。
type WorkoutLog struct {
	ID                   int64        `json:"id"`
	UserID               int64        `json:"userId"`
	LogDate              string       `json:"logDate"`
	Notes                string       `json:"notes"`
	TotalDurationMinutes int          `json:"totalDurationMinutes"`
	Sets                 []WorkoutSet `json:"sets"`
}

const workoutTextMaxExercises = 5

// EmbeddingText 生成训练摘要文本，最多列出 5 组。
func (w WorkoutLog) EmbeddingText() string {
	var parts []string
	if w.LogDate != "" {
		parts = append(parts, "Workout on "+w.LogDate)
	}
	if len(w.Sets) > 0 {
		n := len(w.Sets)
		if n > workoutTextMaxExercises {
			n = workoutTextMaxExercises
		}
		summary := make([]string, 0, n)
		for _, s := range w.Sets[:n] {
			name := s.ExerciseName
			if name == "" {
				name = "Unknown"
			}
			summary = append(summary, fmt.Sprintf("%s (%d reps x %skg)", name, s.Reps, formatWeight(s.Weight)))
		}
		parts = append(parts, "Exercises: "+strings.Join(summary, ", "))
	}
	if w.TotalDurationMinutes > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %d minutes", w.TotalDurationMinutes))
	}
	if w.Notes != "" {
		parts = append(parts, "Notes: "+w.Notes)
	}
	if len(parts) == 0 {
		return "Empty Workout"
	}
	return strings.Join(parts, " | ")
}

// TotalVolume 只统计已完成组的 reps*weight。
func (w WorkoutLog) TotalVolume() float64 {
	var total float64
	for _, s := range w.Sets {
		if s.IsCompleted {
			total += float64(s.Reps) * s.Weight
		}
	}
	return total
}

// CompletedSets 返回已完成的组数。
func (w WorkoutLog) CompletedSets() int {
	n := 0
	for _, s := range w.Sets {
		if s.IsCompleted {
			n++
		}
	}
	return n
}

// Date 解析 LogDate，兼容带时间的格式。
func (w WorkoutLog) Date() (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, w.LogDate); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid logDate %q", w.LogDate)
}

func formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
