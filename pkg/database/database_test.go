package database

import (
	"testing"
)

type widget struct {
	ID   uint
	Name string
}

func TestNewSQLite(t *testing.T) {
	db, err := New(&Config{Driver: "sqlite", FilePath: "file::memory:", LogLevel: "silent", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer Close(db)

	if err := AutoMigrate(db, &widget{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := db.Create(&widget{Name: "a"}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	var count int64
	if err := db.Model(&widget{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestDialectorErrors(t *testing.T) {
	if _, err := Dialector(&Config{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
	if _, err := Dialector(&Config{Driver: "sqlite"}); err == nil {
		t.Error("expected error for sqlite without file path")
	}
	if _, err := Dialector(&Config{Driver: "postgres", Host: "localhost", Port: 5432}); err != nil {
		t.Errorf("postgres dialector: %v", err)
	}
	if _, err := Dialector(&Config{Driver: "mysql", Host: "localhost", Port: 3306}); err != nil {
		t.Errorf("mysql dialector: %v", err)
	}
}
