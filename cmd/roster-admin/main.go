package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/coursegrader/platform/pkg/common/database"
	"github.com/coursegrader/platform/pkg/common/logger"
	"github.com/coursegrader/platform/pkg/roster"
)

const usage = `Usage: roster-admin <command> [flags]

Commands:
  add-student    -id -email [-first] [-last]
  remove-student -id
  add-lesson     -name -max-score -tasks '[{"name":"task-1","max_score":50}]'
  list-students
  list-lessons
`

func main() {
	logger.Init()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	repo := roster.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate roster tables")
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "add-student":
		fs := flag.NewFlagSet("add-student", flag.ExitOnError)
		id := fs.String("id", "", "student id")
		email := fs.String("email", "", "student email")
		first := fs.String("first", "", "first name")
		last := fs.String("last", "", "last name")
		fs.Parse(os.Args[2:])
		if *id == "" || *email == "" {
			logger.Log.Fatal("-id and -email are required")
		}
		student := &roster.Student{ID: *id, Email: *email, FirstName: *first, LastName: *last}
		if err := repo.CreateStudent(ctx, student); err != nil {
			logger.Log.WithError(err).Fatal("failed to create student")
		}
		logger.Log.WithField("id", *id).Info("student created")

	case "remove-student":
		fs := flag.NewFlagSet("remove-student", flag.ExitOnError)
		id := fs.String("id", "", "student id")
		fs.Parse(os.Args[2:])
		if *id == "" {
			logger.Log.Fatal("-id is required")
		}
		if err := repo.DeleteStudent(ctx, *id); err != nil {
			logger.Log.WithError(err).Fatal("failed to remove student")
		}
		logger.Log.WithField("id", *id).Info("student removed")

	case "add-lesson":
		fs := flag.NewFlagSet("add-lesson", flag.ExitOnError)
		name := fs.String("name", "", "lesson name")
		maxScore := fs.Float64("max-score", 100, "maximum score")
		tasksJSON := fs.String("tasks", "[]", "task list as JSON")
		fs.Parse(os.Args[2:])
		if *name == "" {
			logger.Log.Fatal("-name is required")
		}
		var tasks []roster.Task
		if err := json.Unmarshal([]byte(*tasksJSON), &tasks); err != nil {
			logger.Log.WithError(err).Fatal("invalid -tasks value")
		}
		raw, err := roster.MarshalTasks(tasks)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to encode tasks")
		}
		lesson := &roster.Lesson{Name: *name, MaxScore: *maxScore, Tasks: raw}
		if err := repo.CreateLesson(ctx, lesson); err != nil {
			logger.Log.WithError(err).Fatal("failed to create lesson")
		}
		logger.Log.WithField("name", *name).Info("lesson created")

	case "list-students":
		students, err := repo.ListStudents(ctx)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to list students")
		}
		for _, s := range students {
			fmt.Printf("%s\t%s\t%s\n", s.ID, s.Email, s.DisplayName())
		}

	case "list-lessons":
		lessons, err := repo.ListLessons(ctx)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to list lessons")
		}
		for _, l := range lessons {
			fmt.Printf("%s\tmax=%.1f\n", l.Name, l.MaxScore)
		}

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}
