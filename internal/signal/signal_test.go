package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitOrder(t *testing.T) {
	var s Signal[string]
	var got []string
	s.Connect(func(v string) { got = append(got, "a:"+v) })
	id := s.Connect(func(v string) { got = append(got, "b:"+v) })
	s.Connect(func(v string) { got = append(got, "c:"+v) })

	s.Emit("x")
	s.Disconnect(id)
	s.Emit("y")

	assert.Equal(t, []string{"a:x", "b:x", "c:x", "a:y", "c:y"}, got)
	assert.Equal(t, 2, s.Len())
}

func TestConnectFromHandler(t *testing.T) {
	var s Signal[int]
	calls := 0
	s.Connect(func(int) {
		calls++
		s.Connect(func(int) { calls++ })
	})
	s.Emit(1)
	assert.Equal(t, 1, calls)
	s.Emit(2)
	assert.Equal(t, 3, calls)
}
