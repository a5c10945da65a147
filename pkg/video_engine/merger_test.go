package video_engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConcatList(t *testing.T) {
	list := BuildConcatList([]string{
		"/tmp/merge-1/part_0001.mp4",
		"/tmp/merge-1/part_0002.mp4",
	})
	assert.Equal(t, "file '/tmp/merge-1/part_0001.mp4'\nfile '/tmp/merge-1/part_0002.mp4'\n", list)
}

func TestBuildConcatListEscapesSingleQuotes(t *testing.T) {
	list := BuildConcatList([]string{"/tmp/o'brien.mp4"})
	assert.Equal(t, "file '/tmp/o'\\''brien.mp4'\n", list)
}

func TestBuildConcatListEmpty(t *testing.T) {
	assert.Equal(t, "", BuildConcatList(nil))
}

func TestMergeHandlesRejectsZeroInputs(t *testing.T) {
	m := &Merger{}

	_, _, err := m.MergeHandles(context.Background(), nil)
	var mergeErr *MergeError
	require.True(t, errors.As(err, &mergeErr))
	assert.Equal(t, "no usable inputs", mergeErr.Reason)
}

func TestMergeErrorMessages(t *testing.T) {
	plain := &MergeError{Reason: "no usable inputs"}
	assert.Equal(t, "merge failed: no usable inputs", plain.Error())

	cause := errors.New("exit status 1")
	wrapped := &MergeError{Reason: "ffmpeg concat", Output: "some diagnostics", Err: cause}
	assert.Contains(t, wrapped.Error(), "ffmpeg concat")
	assert.ErrorIs(t, wrapped, cause)
}
