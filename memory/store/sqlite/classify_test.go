package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/becomeliminal/avatarmem/memory"
)

func TestClassify(t *testing.T) {
	assert.True(t, memory.IsTransient(classify("op", context.DeadlineExceeded)))
	assert.False(t, memory.IsTransient(classify("op", errors.New("constraint failed"))))

	var se *memory.StorageError
	assert.ErrorAs(t, classify("insert fragment", errors.New("boom")), &se)
	assert.Equal(t, "insert fragment", se.Op)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0.25, -1.5, 3, 0}
	got, err := decodeVector(encodeVector(v), len(v))
	assert.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector(encodeVector(v), 3)
	assert.Error(t, err)
}
