package service

import (
	"errors"
	"fmt"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyEnrolled   = errors.New("student already enrolled")
	ErrInvalidTransition = errors.New("invalid transition")
)

// ValidationError запрос отклонён до любых изменений
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NotFoundError неизвестный ID расписания, занятия или записи
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TransitionError недопустимое действие для текущего статуса занятия
type TransitionError struct {
	InstanceID string
	From       model.InstanceStatus
	Action     model.InstanceAction
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s class instance %s: status is %s", e.Action, e.InstanceID, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// StoreError ошибка хранилища на основном пути операции
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// storeFailure переводит ErrNotFound репозитория в NotFoundError, остальное в StoreError
func storeFailure(op, entity, id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return &StoreError{Op: op, Err: err}
}
