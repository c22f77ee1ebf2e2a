package service

import (
	"sort"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
)

// EligibleStudents возвращает отсортированные ID студентов, чья запись покрывает момент at:
// enrolledAt <= at и (unenrolledAt нет или unenrolledAt > at).
// Пересекающиеся интервалы одного студента дают одну запись в результате.
func EligibleStudents(enrollments []model.Enrollment, at time.Time) []string {
	ids := []string{}
	seen := make(map[string]struct{}, len(enrollments))

	for _, e := range enrollments {
		if !e.Covers(at) {
			continue
		}
		if _, ok := seen[e.StudentID]; ok {
			continue
		}
		seen[e.StudentID] = struct{}{}
		ids = append(ids, e.StudentID)
	}

	sort.Strings(ids)
	return ids
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
