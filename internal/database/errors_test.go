package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		class     ErrorClass
		retryable bool
	}{
		{"nil", nil, ErrorClassPermanent, false},
		{"serialization", &pq.Error{Code: "40001"}, ErrorClassSerialization, true},
		{"deadlock wrapped", fmt.Errorf("update stock: %w", &pq.Error{Code: "40P01"}), ErrorClassDeadlock, true},
		{"lock not available", &pq.Error{Code: "55P03"}, ErrorClassTransient, true},
		{"unique violation", &pq.Error{Code: "23505"}, ErrorClassPermanent, false},
		{"no rows", sql.ErrNoRows, ErrorClassPermanent, false},
		{"other", fmt.Errorf("boom"), ErrorClassPermanent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, ClassifyError(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestConstraintHelpers(t *testing.T) {
	assert.True(t, IsLockNotAvailable(&pq.Error{Code: "55P03"}))
	assert.False(t, IsLockNotAvailable(&pq.Error{Code: "23514"}))
	assert.True(t, IsCheckViolation(fmt.Errorf("x: %w", &pq.Error{Code: "23514"})))
}

func TestAttemptContext(t *testing.T) {
	ctx, cancel := attemptContext(context.Background(), 0)
	defer cancel()
	_, ok := ctx.Deadline()
	assert.False(t, ok)

	ctx, cancel = attemptContext(context.Background(), time.Second)
	defer cancel()
	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 100*time.Millisecond)

	parent, parentCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer parentCancel()
	ctx, cancel = attemptContext(parent, time.Minute)
	defer cancel()
	assert.Equal(t, parent, ctx)
}
