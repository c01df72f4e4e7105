package repository

import (
	"strings"
	"testing"
)

// --- Тесты buildFileWhere ---

// TestBuildFileWhere_Empty проверяет пустые фильтры.
func TestBuildFileWhere_Empty(t *testing.T) {
	where, args := buildFileWhere(FileListFilters{}, 1)

	if where != "" {
		t.Errorf("where = %q, ожидалась пустая строка", where)
	}
	if len(args) != 0 {
		t.Errorf("args count = %d, ожидался 0", len(args))
	}
}

// TestBuildFileWhere_AllFilters проверяет порядок и нумерацию аргументов.
func TestBuildFileWhere_AllFilters(t *testing.T) {
	owner := "u1"
	category := "image"
	status := "active"
	where, args := buildFileWhere(FileListFilters{
		OwnerID:  &owner,
		Category: &category,
		Status:   &status,
	}, 1)

	want := "WHERE owner_id = $1 AND category = $2 AND status = $3"
	if where != want {
		t.Errorf("where = %q, ожидалось %q", where, want)
	}
	if len(args) != 3 {
		t.Fatalf("args count = %d, ожидалось 3", len(args))
	}
	if args[0] != "u1" || args[1] != "image" || args[2] != "active" {
		t.Errorf("args = %v", args)
	}
}

// TestBuildFileWhere_StartArg проверяет смещение номера первого аргумента.
func TestBuildFileWhere_StartArg(t *testing.T) {
	category := "video"
	where, _ := buildFileWhere(FileListFilters{Category: &category}, 3)

	if !strings.Contains(where, "category = $3") {
		t.Errorf("where = %q, ожидалось 'category = $3'", where)
	}
}
