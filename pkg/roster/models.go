package roster

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Student is created by course administration and read-only to the pipeline.
type Student struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	Email     string    `json:"email" gorm:"column:email;uniqueIndex;not null"`
	FirstName string    `json:"first_name" gorm:"column:first_name"`
	LastName  string    `json:"last_name" gorm:"column:last_name"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

func (Student) TableName() string {
	return "students"
}

func (s Student) DisplayName() string {
	if s.FirstName == "" && s.LastName == "" {
		return s.Email
	}
	if s.LastName == "" {
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

// Task describes one graded exercise of a lesson. Name doubles as the id of
// the test cell expected in a submitted notebook.
type Task struct {
	Name     string  `json:"name"`
	MaxScore float64 `json:"max_score"`
}

// Lesson is created by course administration and read-only to the pipeline.
type Lesson struct {
	Name      string         `json:"name" gorm:"primaryKey;column:name"`
	MaxScore  float64        `json:"max_score" gorm:"column:max_score"`
	Tasks     datatypes.JSON `json:"tasks" gorm:"column:tasks"`
	DueDate   *time.Time     `json:"due_date,omitempty" gorm:"column:due_date"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at"`
}

func (Lesson) TableName() string {
	return "lessons"
}

func (l Lesson) TaskList() ([]Task, error) {
	if len(l.Tasks) == 0 {
		return nil, nil
	}
	var tasks []Task
	if err := json.Unmarshal(l.Tasks, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func MarshalTasks(tasks []Task) (datatypes.JSON, error) {
	raw, err := json.Marshal(tasks)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
