package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"learnhub_payments/internal/config"
	"learnhub_payments/internal/logger"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
	"learnhub_payments/internal/services"
	"learnhub_payments/internal/tasks"
)

func main() {
	taskName := flag.String("task_name", "", "Name of the task (mandatory)")
	argsStr := flag.String("arguments", "{}", "JSON arguments for the task")
	dueStr := flag.String("due", "", "Due date (mandatory, format: 2006-01-02 15:04 or RFC3339)")
	taskType := flag.String("tasktype", string(models.ScheduledTaskTypeOneTime), "Task type (onetime or recurring)")
	recurring := flag.String("recurring", "", "RRULE for recurring tasks, e.g. FREQ=DAILY;INTERVAL=1")
	maxAttempt := flag.Int("max_attempt", 3, "Max attempts")

	flag.Parse()

	if *taskName == "" || *dueStr == "" {
		fmt.Println("Usage: schedule_task -task_name <name> -due <YYYY-MM-DD HH:MM> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := config.Load()
	logger.Initialize(cfg.Env)
	log := logger.Log

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("Failed to connect DB", zap.Error(err))
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(*argsStr), &args); err != nil {
		log.Fatal("Invalid JSON arguments", zap.Error(err))
	}

	due, err := time.Parse(time.RFC3339, *dueStr)
	if err != nil {
		due, err = time.ParseInLocation("2006-01-02 15:04", *dueStr, time.Local)
		if err != nil {
			log.Fatal("Invalid due date format. Use '2006-01-02 15:04' (Local) or RFC3339", zap.Error(err))
		}
	}

	var recurringPtr *string
	if *recurring != "" {
		recurringPtr = recurring
	}

	task, err := tasks.BuildScheduledTask(*taskName, args, due, recurringPtr, models.ScheduledTaskType(*taskType), *maxAttempt)
	if err != nil {
		log.Fatal("Failed to build task", zap.Error(err))
	}
	if err := repository.NewGormStore(db).CreateScheduledTask(context.Background(), task); err != nil {
		log.Fatal("Failed to create task", zap.Error(err))
	}

	fmt.Printf("Successfully created task ID: %d\n", task.ID)
	fmt.Printf("Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
}
