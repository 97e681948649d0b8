package cursor

import (
	"sync"
	"testing"
)

func TestCursor_GetSetReset(t *testing.T) {
	c := New(10)
	if got := c.Get(); got != 10 {
		t.Errorf("Get() = %d, want 10", got)
	}

	c.Set(3)
	if got := c.Get(); got != 3 {
		t.Errorf("Get() after Set(3) = %d, want 3", got)
	}

	c.Reset()
	if got := c.Get(); got != Invalid {
		t.Errorf("Get() after Reset() = %d, want %d", got, Invalid)
	}
}

func TestCursor_ProposeMaxOrdered(t *testing.T) {
	tests := []struct {
		name        string
		initial     int64
		proposed    int64
		wantUpdated bool
		wantValue   int64
	}{
		{"greater", 5, 9, true, 9},
		{"equal", 5, 5, false, 5},
		{"smaller", 5, 1, false, 5},
		{"from invalid", Invalid, 0, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.initial)
			if got := c.ProposeMaxOrdered(tt.proposed); got != tt.wantUpdated {
				t.Errorf("ProposeMaxOrdered(%d) = %v, want %v", tt.proposed, got, tt.wantUpdated)
			}
			if got := c.Get(); got != tt.wantValue {
				t.Errorf("Get() = %d, want %d", got, tt.wantValue)
			}
		})
	}
}

func TestCursor_ProposeMaxOrderedConcurrent(t *testing.T) {
	c := New(0)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(offset int64) {
			defer wg.Done()
			for i := int64(0); i < 1000; i++ {
				c.ProposeMaxOrdered(i*8 + offset)
			}
		}(int64(w))
	}
	wg.Wait()

	if got, want := c.Get(), int64(999*8+7); got != want {
		t.Errorf("Get() = %d, want %d", got, want)
	}
}
