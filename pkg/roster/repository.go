package roster

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrStudentNotFound = errors.New("student not found")
	ErrLessonNotFound  = errors.New("lesson not found")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Student{}, &Lesson{})
}

func (r *Repository) StudentByEmail(ctx context.Context, email string) (*Student, error) {
	var student Student
	result := r.db.WithContext(ctx).
		Where("LOWER(email) = LOWER(?)", email).
		First(&student)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrStudentNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &student, nil
}

func (r *Repository) StudentByID(ctx context.Context, id string) (*Student, error) {
	var student Student
	result := r.db.WithContext(ctx).First(&student, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrStudentNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &student, nil
}

func (r *Repository) LessonByName(ctx context.Context, name string) (*Lesson, error) {
	var lesson Lesson
	result := r.db.WithContext(ctx).
		Where("LOWER(name) = LOWER(?)", name).
		First(&lesson)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrLessonNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &lesson, nil
}

func (r *Repository) CreateStudent(ctx context.Context, student *Student) error {
	student.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(student).Error
}

func (r *Repository) DeleteStudent(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&Student{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStudentNotFound
	}
	return nil
}

func (r *Repository) CreateLesson(ctx context.Context, lesson *Lesson) error {
	lesson.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(lesson).Error
}

func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	var students []Student
	err := r.db.WithContext(ctx).Order("id").Find(&students).Error
	return students, err
}

func (r *Repository) ListLessons(ctx context.Context) ([]Lesson, error) {
	var lessons []Lesson
	err := r.db.WithContext(ctx).Order("name").Find(&lessons).Error
	return lessons, err
}
