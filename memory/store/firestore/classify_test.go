package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/becomeliminal/avatarmem/memory"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"unavailable", status.Error(codes.Unavailable, "backend down"), true},
		{"deadline status", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "quota"), true},
		{"aborted", status.Error(codes.Aborted, "contention"), true},
		{"context deadline", context.DeadlineExceeded, true},
		{"already exists", status.Error(codes.AlreadyExists, "dup"), false},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad vector"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			assert.Equal(t, tt.transient, memory.IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNewFromClientValidates(t *testing.T) {
	_, err := NewFromClient(nil, Config{})
	assert.Error(t, err)

	s, err := NewFromClient(nil, Config{Dimensions: 16})
	assert.NoError(t, err)
	assert.Equal(t, DefaultCollection, s.collection)
	assert.Equal(t, 16, s.Dimensions())
	assert.NoError(t, s.Close())
}
