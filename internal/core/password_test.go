package core

import (
	"errors"
	"testing"
)

func TestPasswordFromEnv(t *testing.T) {
	t.Setenv(PasswordEnv, "")
	if got := PasswordFromEnv(); got != nil {
		t.Errorf("Expected nil with empty env, got %q", got)
	}

	t.Setenv(PasswordEnv, "hunter2")
	if got := string(PasswordFromEnv()); got != "hunter2" {
		t.Errorf("Expected hunter2, got %q", got)
	}
}

func scripted(answers ...string) PromptFunc {
	return func(string) ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more answers")
		}
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
}

func TestReadPasswordConfirm(t *testing.T) {
	got, err := ReadPasswordConfirm(scripted("abc", "abc"))
	if err != nil {
		t.Fatalf("ReadPasswordConfirm failed: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}

	if _, err := ReadPasswordConfirm(scripted("abc", "abd")); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("Expected ErrPasswordMismatch, got %v", err)
	}

	if _, err := ReadPasswordConfirm(scripted("abc")); err == nil {
		t.Error("Expected read error to propagate")
	}
}
