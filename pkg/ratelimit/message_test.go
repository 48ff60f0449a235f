package ratelimit

import "testing"

// TestMessageLimiter_Burst 测试突发容量内全部放行
func TestMessageLimiter_Burst(t *testing.T) {
	m := NewMessageLimiter(50, 50, 10)

	for i := 0; i < 50; i++ {
		if v := m.Check(); v != Allowed {
			t.Fatalf("message %d verdict = %v, want Allowed", i+1, v)
		}
	}
}

// TestMessageLimiter_SoftLimit 测试超出速率后软性丢弃
func TestMessageLimiter_SoftLimit(t *testing.T) {
	m := NewMessageLimiter(1, 1, 10)

	if v := m.Check(); v != Allowed {
		t.Fatalf("first message verdict = %v, want Allowed", v)
	}
	if v := m.Check(); v != SoftLimited {
		t.Errorf("second message verdict = %v, want SoftLimited", v)
	}
}

// TestMessageLimiter_HardLimit 测试连续超限触发断开
func TestMessageLimiter_HardLimit(t *testing.T) {
	m := NewMessageLimiter(1, 1, 3)

	m.Check() // Allowed，耗尽令牌

	verdicts := []Verdict{SoftLimited, SoftLimited, HardLimited}
	for i, want := range verdicts {
		if v := m.Check(); v != want {
			t.Errorf("violation %d verdict = %v, want %v", i+1, v, want)
		}
	}
}

// TestMessageLimiter_StrikesReset 测试放行后连击清零
func TestMessageLimiter_StrikesReset(t *testing.T) {
	m := NewMessageLimiter(1000, 1, 3)

	m.Check()
	// 令牌桶速率够高时下一条会重新放行，连击应清零
	for i := 0; i < 100; i++ {
		if m.Check() == Allowed && m.Strikes() != 0 {
			t.Fatal("strikes not reset after allowed message")
		}
	}
}

// TestMessageLimiter_HardLimitDisabled 测试 hardLimit 为 0 时永不断开
func TestMessageLimiter_HardLimitDisabled(t *testing.T) {
	m := NewMessageLimiter(1, 1, 0)

	m.Check()
	for i := 0; i < 100; i++ {
		if v := m.Check(); v == HardLimited {
			t.Fatal("HardLimited verdict with hard limit disabled")
		}
	}
}
