package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConflictErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy text", errors.New("SQLITE_BUSY"), true},
		{"locked text", errors.New("database is locked (5)"), true},
		{"wrapped busy", fmt.Errorf("insert call record: %w", errors.New("SQLITE_BUSY")), true},
		{"other", errors.New("no such table: calls"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsSQLiteConflictError(tc.err))
		})
	}
}
